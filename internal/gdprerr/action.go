package gdprerr

type Action int8

const (
	Unknown Action = iota
	File
	Evaluate
	Cancel
	Execute
	Encrypt
	Decrypt
	Anonymize
)

func (a Action) String() string {
	actions := map[Action]string{
		Unknown:   "unknown",
		File:      "file",
		Evaluate:  "evaluate",
		Cancel:    "cancel",
		Execute:   "execute",
		Encrypt:   "encrypt",
		Decrypt:   "decrypt",
		Anonymize: "anonymize",
	}

	if str, ok := actions[a]; ok {
		return str
	}
	return "unknown"
}
