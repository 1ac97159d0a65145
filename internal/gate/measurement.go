package gate

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// rtmrSize is the width of a TDX runtime measurement register.
const rtmrSize = sha512.Size384

// composeHashEvent names the event whose payload is the code identity.
const composeHashEvent = "compose-hash"

// TCBInfo is the worker-supplied measurement metadata.
type TCBInfo struct {
	RTMR3      string  `json:"rtmr3,omitempty"`
	AppCompose string  `json:"app_compose,omitempty"`
	EventLog   []Event `json:"event_log"`
}

// Event is one entry of the runtime event log.
type Event struct {
	IMR          uint32 `json:"imr"`
	EventType    uint32 `json:"event_type"`
	Digest       string `json:"digest"`
	Event        string `json:"event"`
	EventPayload string `json:"event_payload"`
}

// ParseTCBInfo decodes the JSON tcb_info document.
func ParseTCBInfo(raw string) (TCBInfo, error) {
	var info TCBInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return TCBInfo{}, fmt.Errorf("parse tcb_info: %w", err)
	}
	return info, nil
}

// ReplayRTMR3 extends a zero register with the digest of every IMR 3 event,
// in log order: rtmr = SHA-384(rtmr || digest). Each digest must be a
// SHA-384 sum.
func ReplayRTMR3(events []Event) ([]byte, error) {
	rtmr := make([]byte, rtmrSize)
	for i, e := range events {
		if e.IMR != 3 {
			continue
		}
		digest, err := decodeHex(e.Digest)
		if err != nil {
			return nil, fmt.Errorf("event %d digest: %w", i, err)
		}
		if len(digest) != rtmrSize {
			return nil, fmt.Errorf("event %d digest is %d bytes, want %d", i, len(digest), rtmrSize)
		}

		h := sha512.New384()
		h.Write(rtmr)
		h.Write(digest)
		rtmr = h.Sum(nil)
	}
	return rtmr, nil
}

// EventDigest is the measured digest of a runtime event:
// SHA-384(event || ":" || payload).
func EventDigest(event, payload string) []byte {
	sum := sha512.Sum384([]byte(event + ":" + payload))
	return sum[:]
}

// CodeIdentity derives the code identity from a verified RTMR3 and the
// worker's tcb_info. The event log must replay to rtmr3 and every IMR 3
// event must carry the digest of its own payload. The identity is the
// payload of the IMR 3 compose-hash event, and app_compose must hash to it.
func CodeIdentity(info TCBInfo, rtmr3 []byte) (string, error) {
	replayed, err := ReplayRTMR3(info.EventLog)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(replayed, rtmr3) {
		return "", fmt.Errorf("replayed rtmr3 %x does not match report %x", replayed, rtmr3)
	}

	var payload string
	found := false
	for i, e := range info.EventLog {
		if e.IMR != 3 {
			continue
		}
		digest, _ := decodeHex(e.Digest)
		if !bytes.Equal(digest, EventDigest(e.Event, e.EventPayload)) {
			return "", fmt.Errorf("event %d (%s) payload does not match its digest", i, e.Event)
		}
		if !found && e.Event == composeHashEvent {
			payload = strings.ToLower(strings.TrimPrefix(e.EventPayload, "0x"))
			found = true
		}
	}
	if !found || payload == "" {
		return "", fmt.Errorf("event log has no imr 3 %s event", composeHashEvent)
	}

	if info.AppCompose == "" {
		return "", errors.New("tcb_info has no app_compose")
	}
	sum := sha256.Sum256([]byte(info.AppCompose))
	if hex.EncodeToString(sum[:]) != payload {
		return "", fmt.Errorf("app_compose hash does not match %s payload", composeHashEvent)
	}
	return payload, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
