package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"fluency-push-go/internal/webpush"
)

func TestGenerate(t *testing.T) {
	pair, err := generate("mailto:ops@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	keys, err := webpush.ParseVAPIDKeys(pair.PublicKey, pair.PrivateKey)
	if err != nil {
		t.Fatalf("ParseVAPIDKeys: %v", err)
	}
	if len(keys.Public) != webpush.PublicKeySize || len(keys.Private) != webpush.PrivateKeySize {
		t.Errorf("key sizes = %d/%d", len(keys.Public), len(keys.Private))
	}
}

func TestGenerateRejectsBadSubject(t *testing.T) {
	if _, err := generate("ops@example.com"); err == nil {
		t.Error("generate accepted a subject without mailto: or https:")
	}
}

func TestWrite(t *testing.T) {
	pair := keyPair{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:a@b.c"}

	var env bytes.Buffer
	if err := write(&env, "env", pair); err != nil {
		t.Fatalf("write env: %v", err)
	}
	want := "VAPID_PUBLIC_KEY=pub\nVAPID_PRIVATE_KEY=priv\nVAPID_SUBJECT=mailto:a@b.c\n"
	if env.String() != want {
		t.Errorf("env output = %q, want %q", env.String(), want)
	}

	var js bytes.Buffer
	if err := write(&js, "json", pair); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var got keyPair
	if err := json.Unmarshal(js.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != pair {
		t.Errorf("json output = %+v, want %+v", got, pair)
	}

	if err := write(&js, "yaml", pair); err == nil || !strings.Contains(err.Error(), "yaml") {
		t.Errorf("write yaml = %v, want unknown format error", err)
	}
}
