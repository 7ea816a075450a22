// Package orderref packs checkout context into the opaque order id that
// CryptoCloud echoes back in its postback.
//
// Wire format: nonce:userId:serverId:planId:chatId:messageId
package orderref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	delimiter  = ":"
	fieldCount = 6
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("order reference malformed")

// DecodeError describes why a raw order reference was rejected.
type DecodeError struct {
	Raw    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("order reference %q: %s", e.Raw, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Reference is the checkout context carried through provider B.
type Reference struct {
	Nonce     string
	UserID    int64
	ServerID  string
	PlanID    string
	ChatID    int64
	MessageID int
}

// New builds a reference with a fresh random nonce.
func New(userID int64, serverID, planID string, chatID int64, messageID int) Reference {
	return Reference{
		Nonce:     uuid.NewString(),
		UserID:    userID,
		ServerID:  serverID,
		PlanID:    planID,
		ChatID:    chatID,
		MessageID: messageID,
	}
}

// Encode renders the reference. String fields must be non-empty and must not
// contain the delimiter, otherwise the value could not be decoded back.
func Encode(r Reference) (string, error) {
	for name, v := range map[string]string{"nonce": r.Nonce, "server": r.ServerID, "plan": r.PlanID} {
		if v == "" {
			return "", fmt.Errorf("encode order reference: empty %s", name)
		}
		if strings.Contains(v, delimiter) {
			return "", fmt.Errorf("encode order reference: %s contains %q", name, delimiter)
		}
	}
	return strings.Join([]string{
		r.Nonce,
		strconv.FormatInt(r.UserID, 10),
		r.ServerID,
		r.PlanID,
		strconv.FormatInt(r.ChatID, 10),
		strconv.Itoa(r.MessageID),
	}, delimiter), nil
}

// String is Encode without the error; invalid references render as "".
func (r Reference) String() string {
	s, err := Encode(r)
	if err != nil {
		return ""
	}
	return s
}

// Decode parses a raw order reference. It has no side effects and fails closed.
func Decode(raw string) (Reference, error) {
	parts := strings.Split(raw, delimiter)
	if len(parts) != fieldCount {
		return Reference{}, &DecodeError{Raw: raw, Reason: fmt.Sprintf("want %d fields, got %d", fieldCount, len(parts))}
	}

	for i, name := range []string{"nonce", "user", "server", "plan", "chat", "message"} {
		if strings.TrimSpace(parts[i]) == "" {
			return Reference{}, &DecodeError{Raw: raw, Reason: "empty " + name}
		}
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Reference{}, &DecodeError{Raw: raw, Reason: "user id is not an integer"}
	}
	chatID, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Reference{}, &DecodeError{Raw: raw, Reason: "chat id is not an integer"}
	}
	messageID, err := strconv.Atoi(parts[5])
	if err != nil {
		return Reference{}, &DecodeError{Raw: raw, Reason: "message id is not an integer"}
	}

	return Reference{
		Nonce:     parts[0],
		UserID:    userID,
		ServerID:  parts[2],
		PlanID:    parts[3],
		ChatID:    chatID,
		MessageID: messageID,
	}, nil
}
