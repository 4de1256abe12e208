package okex

// errorCodeText abbreviates the vendor error-code table for the codes the
// order path actually hits. Used only when the venue omits the message;
// messages delivered on the wire always win.
var errorCodeText = map[string]string{
	"30001": "request header OK-ACCESS-KEY cannot be blank",
	"30002": "request header OK-ACCESS-SIGN cannot be blank",
	"30003": "request header OK-ACCESS-TIMESTAMP cannot be blank",
	"30004": "request header OK-ACCESS-PASSPHRASE cannot be blank",
	"30005": "invalid OK-ACCESS-TIMESTAMP",
	"30006": "invalid OK-ACCESS-KEY",
	"30008": "request timestamp expired",
	"30012": "invalid authority",
	"30013": "invalid sign",
	"30024": "parameter value error",
	"30026": "requested too frequently",
	"30027": "login failure",
	"30041": "user not logged in",
	"32004": "order does not exist",
	"32007": "order is being processed, cannot be undone",
	"32014": "positions to close exceed holdings",
	"32019": "order price deviates from the price limit",
	"32025": "contract is not warmed up",
	"33008": "order quantity exceeds the limit",
	"33014": "order does not exist",
	"33017": "insufficient balance",
	"35008": "invalid order size",
	"35010": "position closing too large",
	"35049": "invalid match price",
}

// textForCode resolves an error code against the abbreviated table. Codes
// outside the table yield an empty string; callers keep the raw code on the
// error regardless.
func textForCode(code string) string {
	if text, ok := errorCodeText[code]; ok {
		return text
	}
	return ""
}
