package response

// ACHReturnClassification is the reading of a NACHA return code.
type ACHReturnClassification struct {
	Reason    string
	Retryable bool
}

// achReturnCodes covers the return codes the funding reports emit. Unlisted
// codes classify as non-retryable with the raw code as reason.
var achReturnCodes = map[string]ACHReturnClassification{
	"R01": {"Insufficient funds", true},
	"R02": {"Account closed", false},
	"R03": {"No account / unable to locate account", false},
	"R04": {"Invalid account number", false},
	"R05": {"Unauthorized debit to consumer account", false},
	"R07": {"Authorization revoked by customer", false},
	"R08": {"Payment stopped", false},
	"R09": {"Uncollected funds", true},
	"R10": {"Customer advises not authorized", false},
	"R16": {"Account frozen", false},
	"R20": {"Non-transaction account", false},
	"R29": {"Corporate customer advises not authorized", false},
}

// ClassifyACHReturn maps a return code to its reason and retryability.
func ClassifyACHReturn(code string) ACHReturnClassification {
	if c, ok := achReturnCodes[code]; ok {
		return c
	}
	return ACHReturnClassification{Reason: "Returned with code " + code, Retryable: false}
}
