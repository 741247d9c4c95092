package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// signedFields fixes the field order of the signed JSON.
type signedFields struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload"`
	Source  string         `json:"source"`
}

func mac(cmd *Command, secret string) ([]byte, error) {
	canonical, err := json.Marshal(signedFields{
		Command: cmd.Command,
		Payload: cmd.Payload,
		Source:  cmd.Source,
	})
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(canonical)
	return h.Sum(nil), nil
}

// SignCommand sets cmd.Signature to the hex HMAC-SHA256 of the command,
// payload and source. An empty secret leaves the command unsigned.
func SignCommand(cmd *Command, secret string) error {
	if secret == "" {
		return nil
	}
	sum, err := mac(cmd, secret)
	if err != nil {
		return err
	}
	cmd.Signature = hex.EncodeToString(sum)
	return nil
}

// VerifyCommand reports whether cmd carries a valid signature. With an
// empty secret every command is accepted; with a secret, unsigned commands
// are rejected.
func VerifyCommand(cmd *Command, secret string) bool {
	if secret == "" {
		return true
	}
	got, err := hex.DecodeString(cmd.Signature)
	if err != nil || len(got) == 0 {
		return false
	}
	want, err := mac(cmd, secret)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}
