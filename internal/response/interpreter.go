// Package response maps raw processor answers to structured outcomes. It is
// pure: no I/O, no clock, same input always yields the same interpretation.
package response

// DeclineCategory buckets processor declines for differentiated retry and
// user guidance upstream. It never changes the intent's terminal status.
type DeclineCategory string

const (
	CategoryNone              DeclineCategory = "none"
	CategoryInsufficientFunds DeclineCategory = "insufficient_funds"
	CategoryExpiredCard       DeclineCategory = "expired_card"
	CategoryInvalidCard       DeclineCategory = "invalid_card"
	CategoryFraudSuspected    DeclineCategory = "fraud_suspected"
	CategoryDoNotHonor        DeclineCategory = "do_not_honor"
	CategoryLimitExceeded     DeclineCategory = "limit_exceeded"
	CategoryProcessorError    DeclineCategory = "processor_error"
)

// VerificationResult is the pass/fail reading of an AVS or CVV response.
type VerificationResult string

const (
	VerificationPass      VerificationResult = "pass"
	VerificationFail      VerificationResult = "fail"
	VerificationUnchecked VerificationResult = "unchecked"
)

// Interpretation is the structured reading of one processor response.
type Interpretation struct {
	Approved        bool
	DeclineCategory DeclineCategory
	UserMessage     string
	SuggestedAction string
	Retryable       bool
	AVSResult       VerificationResult
	CVVResult       VerificationResult
}

type classification struct {
	category  DeclineCategory
	message   string
	action    string
	retryable bool
}

// declineCodes follows the ISO 8583 action code conventions the card
// processors in use emit on their server post responses.
var declineCodes = map[string]classification{
	"05": {CategoryDoNotHonor, "The card was declined.", "Ask the customer to contact their bank or use another card.", false},
	"14": {CategoryInvalidCard, "The card number is invalid.", "Re-enter the card number or use another card.", false},
	"51": {CategoryInsufficientFunds, "The card has insufficient funds.", "Use another card or try a smaller amount.", false},
	"54": {CategoryExpiredCard, "The card is expired.", "Use a card with a valid expiration date.", false},
	"04": {CategoryFraudSuspected, "The card was declined.", "Do not retry. Ask the customer to contact their bank.", false},
	"07": {CategoryFraudSuspected, "The card was declined.", "Do not retry. Ask the customer to contact their bank.", false},
	"41": {CategoryFraudSuspected, "The card was reported lost.", "Do not retry this card.", false},
	"43": {CategoryFraudSuspected, "The card was reported stolen.", "Do not retry this card.", false},
	"59": {CategoryFraudSuspected, "The transaction was flagged as suspected fraud.", "Do not retry. Ask the customer to contact their bank.", false},
	"61": {CategoryLimitExceeded, "The card's amount limit was exceeded.", "Try a smaller amount or another card.", false},
	"65": {CategoryLimitExceeded, "The card's activity limit was exceeded.", "Try again later or use another card.", false},
	"91": {CategoryProcessorError, "The card issuer is temporarily unavailable.", "Try again in a few minutes.", true},
	"96": {CategoryProcessorError, "The processor reported a system malfunction.", "Try again in a few minutes.", true},
}

var approvedCodes = map[string]bool{
	"00":       true,
	"000":      true,
	"APPROVAL": true,
}

// avsPass holds AVS codes where the address or zip matched.
var avsPass = map[string]bool{
	"Y": true, "X": true, "A": true, "Z": true, "W": true, "D": true, "M": true,
}

// Interpret maps one raw processor response to a structured outcome.
func Interpret(responseCode, responseText, avsResponse, cvvResponse string) Interpretation {
	out := Interpretation{
		AVSResult: interpretAVS(avsResponse),
		CVVResult: interpretCVV(cvvResponse),
	}

	if approvedCodes[responseCode] {
		out.Approved = true
		out.DeclineCategory = CategoryNone
		out.UserMessage = "Approved."
		return out
	}

	if c, ok := declineCodes[responseCode]; ok {
		out.DeclineCategory = c.category
		out.UserMessage = c.message
		out.SuggestedAction = c.action
		out.Retryable = c.retryable
		return out
	}

	out.DeclineCategory = CategoryProcessorError
	out.UserMessage = "The payment could not be processed."
	out.SuggestedAction = "Contact support if the problem persists."
	if responseText != "" {
		out.UserMessage = "The payment could not be processed: " + responseText
	}
	return out
}

func interpretAVS(code string) VerificationResult {
	switch {
	case code == "" || code == "U" || code == "S" || code == "R" || code == "G":
		return VerificationUnchecked
	case avsPass[code]:
		return VerificationPass
	default:
		return VerificationFail
	}
}

func interpretCVV(code string) VerificationResult {
	switch code {
	case "M":
		return VerificationPass
	case "N":
		return VerificationFail
	default:
		return VerificationUnchecked
	}
}
