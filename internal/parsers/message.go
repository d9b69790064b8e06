package parsers

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

// DefaultMessageType is used when the message carries no application header
const DefaultMessageType = "MT103"

var (
	// a tag starts a line or follows whitespace on the same line
	tagPattern = regexp.MustCompile(`(?m)(?:^|[ \t]+):(\d{2}[A-Z]?):`)

	// application header, e.g. {2:I103BANKDEFFXXXXN}
	appHeaderPattern = regexp.MustCompile(`\{2:[IO](\d{3})`)

	valueDatePattern = regexp.MustCompile(`^(\d{6})([A-Z]{3})([0-9][0-9.,]*)$`)
)

// requiredTag lists a required field and the tags accepted for it
type requiredTag struct {
	name    string
	accepts []string
}

var requiredTags = []requiredTag{
	{name: "20", accepts: []string{"20"}},
	{name: "32A", accepts: []string{"32A"}},
	{name: "50K", accepts: []string{"50K", "50A", "50F"}},
	{name: "59", accepts: []string{"59", "59A", "59F"}},
}

// ParseMessage parses a tag-delimited wire transfer notification.
//
// Required tags are :20:, :32A:, :50K: and :59:. Values may span several
// lines and run until the next tag. A missing required tag fails with
// CodeMissingField naming the tag; an unreadable :32A: fails with
// CodeMalformedAmount. Failures are scoped to this message only.
func ParseMessage(raw string) (*models.WireMessage, error) {
	body, messageType := unwrapBlocks(raw)
	fields := splitTags(body)

	values := make(map[string]string, len(requiredTags))
	for _, req := range requiredTags {
		value, ok := firstOf(fields, req.accepts)
		if !ok || value == "" {
			return nil, errors.ParseError(errors.CodeMissingField, req.name, "", nil)
		}
		values[req.name] = value
	}

	valueDate, currency, amount, err := parseValueDateAmount(values["32A"])
	if err != nil {
		return nil, err
	}

	return &models.WireMessage{
		MessageType:          messageType,
		SenderReference:      values["20"],
		ValueDate:            valueDate,
		Currency:             currency,
		Amount:               amount,
		OrderingCustomer:     values["50K"],
		BeneficiaryCustomer:  values["59"],
		RemittanceInfo:       fields["70"],
		SenderToReceiverInfo: fields["72"],
	}, nil
}

// unwrapBlocks strips SWIFT block wrappers and returns the text block body
// together with the message type taken from the application header
func unwrapBlocks(raw string) (string, string) {
	messageType := DefaultMessageType
	if m := appHeaderPattern.FindStringSubmatch(raw); m != nil {
		messageType = "MT" + m[1]
	}

	body := raw
	if idx := strings.Index(body, "{4:"); idx >= 0 {
		body = body[idx+len("{4:"):]
	}
	if idx := strings.LastIndex(body, "-}"); idx >= 0 {
		body = body[:idx]
	}
	return body, messageType
}

// splitTags returns tag -> value; the first occurrence of a tag wins
func splitTags(body string) map[string]string {
	fields := make(map[string]string)
	matches := tagPattern.FindAllStringSubmatchIndex(body, -1)

	for i, m := range matches {
		tag := body[m[2]:m[3]]
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if _, seen := fields[tag]; seen {
			continue
		}
		fields[tag] = cleanValue(body[m[1]:end])
	}
	return fields
}

// cleanValue trims every continuation line and drops empty ones
func cleanValue(value string) string {
	lines := strings.Split(value, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func firstOf(fields map[string]string, tags []string) (string, bool) {
	for _, tag := range tags {
		if v, ok := fields[tag]; ok {
			return v, true
		}
	}
	return "", false
}

// parseValueDateAmount reads YYMMDD + currency + amount from a :32A: value
func parseValueDateAmount(value string) (time.Time, string, decimal.Decimal, error) {
	compact := strings.Join(strings.Fields(value), "")
	m := valueDatePattern.FindStringSubmatch(compact)
	if m == nil {
		return time.Time{}, "", decimal.Zero, errors.ParseError(errors.CodeMalformedAmount, "32A", value, nil)
	}

	valueDate, err := time.Parse("060102", m[1])
	if err != nil {
		return time.Time{}, "", decimal.Zero, errors.ParseError(errors.CodeMalformedAmount, "32A", value, err)
	}

	amount, err := parseMessageAmount(m[3])
	if err != nil {
		return time.Time{}, "", decimal.Zero, errors.ParseError(errors.CodeMalformedAmount, "32A", value, err)
	}

	return valueDate, m[2], amount, nil
}

// parseMessageAmount accepts either '.' or ',' as the decimal separator.
// When both appear, the last one is the decimal separator and the others
// group thousands. A single kind repeated several times only groups thousands.
func parseMessageAmount(s string) (decimal.Decimal, error) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	normalized := s
	switch {
	case dots+commas == 0:
	case dots > 0 && commas > 0:
		last := strings.LastIndexAny(s, ".,")
		whole := strings.NewReplacer(".", "", ",", "").Replace(s[:last])
		normalized = whole + "." + s[last+1:]
	case dots > 1 || commas > 1:
		normalized = strings.NewReplacer(".", "", ",", "").Replace(s)
	default:
		normalized = strings.Replace(s, ",", ".", 1)
	}

	// SWIFT allows a trailing separator with no fraction, e.g. "500000,"
	normalized = strings.TrimSuffix(normalized, ".")
	return decimal.NewFromString(normalized)
}
