// Command vapidkeys prints a fresh VAPID key pair for the push service.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"fluency-push-go/internal/webpush"
)

const maxAttempts = 3

type keyPair struct {
	PublicKey  string `json:"VAPID_PUBLIC_KEY"`
	PrivateKey string `json:"VAPID_PRIVATE_KEY"`
	Subject    string `json:"VAPID_SUBJECT"`
}

func main() {
	format := flag.String("format", "env", "output format: env or json")
	subject := flag.String("subject", "mailto:push@fluencyia.app", "contact URI for the sub claim")
	flag.Parse()

	pair, err := generate(*subject)
	if err != nil {
		log.Fatalf("Failed to generate VAPID keys: %v", err)
	}
	if err := write(os.Stdout, *format, pair); err != nil {
		log.Fatal(err)
	}
}

// generate creates a key pair and checks it signs with the same code path
// the server uses.
func generate(subject string) (keyPair, error) {
	var lastErr error
	for range maxAttempts {
		privateKey, publicKey, err := webpushgo.GenerateVAPIDKeys()
		if err != nil {
			return keyPair{}, err
		}
		if lastErr = validate(publicKey, privateKey, subject); lastErr != nil {
			continue
		}
		return keyPair{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}, nil
	}
	return keyPair{}, lastErr
}

func validate(publicKey, privateKey, subject string) error {
	keys, err := webpush.ParseVAPIDKeys(publicKey, privateKey)
	if err != nil {
		return err
	}
	signer, err := webpush.NewSigner(keys, subject, 0, nil)
	if err != nil {
		return err
	}
	_, err = signer.Token("https://fcm.googleapis.com")
	return err
}

func write(w io.Writer, format string, pair keyPair) error {
	switch format {
	case "env":
		_, err := fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\nVAPID_SUBJECT=%s\n", pair.PublicKey, pair.PrivateKey, pair.Subject)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
