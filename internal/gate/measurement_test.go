package gate

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extend(rtmr, digest []byte) []byte {
	h := sha512.New384()
	h.Write(rtmr)
	h.Write(digest)
	return h.Sum(nil)
}

func measured(imr uint32, name, payload string) Event {
	return Event{IMR: imr, Digest: hex.EncodeToString(EventDigest(name, payload)), Event: name, EventPayload: payload}
}

func TestReplayRTMR3_Empty(t *testing.T) {
	got, err := ReplayRTMR3(nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, rtmrSize), got)
}

func TestReplayRTMR3_OnlyIMR3Extends(t *testing.T) {
	d1 := bytes.Repeat([]byte{0x11}, rtmrSize)
	d2 := bytes.Repeat([]byte{0x22}, rtmrSize)

	got, err := ReplayRTMR3([]Event{
		{IMR: 3, Digest: hex.EncodeToString(d1)},
		{IMR: 1, Digest: "ff"},
		{IMR: 3, Digest: "0x" + hex.EncodeToString(d2)},
	})
	require.NoError(t, err)

	want := extend(extend(make([]byte, rtmrSize), d1), d2)
	assert.Equal(t, want, got)
}

func TestReplayRTMR3_Errors(t *testing.T) {
	tests := []struct {
		name   string
		digest string
		want   string
	}{
		{name: "not hex", digest: "zz", want: "event 0 digest"},
		{name: "short", digest: hex.EncodeToString(make([]byte, 32)), want: "32 bytes, want 48"},
		{name: "long", digest: hex.EncodeToString(make([]byte, rtmrSize+1)), want: "49 bytes, want 48"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReplayRTMR3([]Event{{IMR: 3, Digest: tt.digest}})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEventDigest(t *testing.T) {
	want := sha512.Sum384([]byte("compose-hash:ab"))
	assert.Equal(t, want[:], EventDigest("compose-hash", "ab"))
}

const testCompose = `{"image":"agent:1"}`

func composeIdentity(compose string) string {
	sum := sha256.Sum256([]byte(compose))
	return hex.EncodeToString(sum[:])
}

func composeLog(identity string) []Event {
	return []Event{
		measured(0, "boot", "firmware"),
		measured(3, "app-id", "01"),
		measured(3, composeHashEvent, identity),
	}
}

func TestCodeIdentity(t *testing.T) {
	identity := composeIdentity(testCompose)
	events := composeLog("0x" + identity)

	got, err := CodeIdentity(TCBInfo{AppCompose: testCompose, EventLog: events}, mustReplay(t, events))
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestCodeIdentity_Mismatches(t *testing.T) {
	identity := composeIdentity(testCompose)
	events := composeLog(identity)
	rtmr3 := mustReplay(t, events)

	forged := composeIdentity("another app")
	rewritten := composeLog(identity)
	rewritten[2].EventPayload = forged

	misplaced := []Event{measured(0, composeHashEvent, forged), measured(3, "app-id", "01")}

	tests := []struct {
		name  string
		info  TCBInfo
		rtmr3 []byte
		want  string
	}{
		{
			name:  "register differs",
			info:  TCBInfo{AppCompose: testCompose, EventLog: events},
			rtmr3: make([]byte, rtmrSize),
			want:  "does not match report",
		},
		{
			name:  "no compose hash event",
			info:  TCBInfo{AppCompose: testCompose, EventLog: events[:2]},
			rtmr3: mustReplay(t, events[:2]),
			want:  "no imr 3 compose-hash event",
		},
		{
			name:  "compose hash outside imr 3",
			info:  TCBInfo{AppCompose: "another app", EventLog: misplaced},
			rtmr3: mustReplay(t, misplaced),
			want:  "no imr 3 compose-hash event",
		},
		{
			name:  "payload rewritten after measurement",
			info:  TCBInfo{AppCompose: "another app", EventLog: rewritten},
			rtmr3: rtmr3,
			want:  "payload does not match its digest",
		},
		{
			name:  "app compose missing",
			info:  TCBInfo{EventLog: events},
			rtmr3: rtmr3,
			want:  "no app_compose",
		},
		{
			name:  "app compose differs",
			info:  TCBInfo{AppCompose: "something else", EventLog: events},
			rtmr3: rtmr3,
			want:  "app_compose hash",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CodeIdentity(tt.info, tt.rtmr3)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func mustReplay(t *testing.T, events []Event) []byte {
	t.Helper()
	r, err := ReplayRTMR3(events)
	require.NoError(t, err)
	return r
}

func TestParseTCBInfo(t *testing.T) {
	info, err := ParseTCBInfo(`{"rtmr3":"00","event_log":[{"imr":3,"event_type":1,"digest":"ab","event":"compose-hash","event_payload":"cd"}]}`)
	require.NoError(t, err)
	require.Len(t, info.EventLog, 1)
	assert.Equal(t, uint32(3), info.EventLog[0].IMR)
	assert.Equal(t, "cd", info.EventLog[0].EventPayload)

	_, err = ParseTCBInfo("not json")
	assert.Error(t, err)
}
