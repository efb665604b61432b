// Package main is a staff and developer CLI for regdesk. It mints image
// references with the dev signing key, dry-runs payment notification parsing,
// and injects notifications into the payments topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"regdesk/internal/images"
	"regdesk/internal/payments"
	"regdesk/internal/platform/kafka/producer"
)

const (
	// devSigningKey matches config when IMAGE_REF_SIGNING_KEY is unset.
	devSigningKey      = "dev-image-ref-key-change-me"
	defaultVenueMarker = "@ UNI-Commons x CFSO"
	defaultTopic       = "payments.notifications"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:], os.Stdout)
	case "parse":
		err = runParse(os.Args[2:], os.Stdin, os.Stdout)
	case "inject":
		err = runInject(os.Args[2:], os.Stdin, os.Stdout)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: regctl <command> [flags]

Commands:
  sign     mint a signed image reference for a stored object key
  parse    extract payer, amount and course from a notification body (stdin)
  inject   publish a notification body (stdin) to the payments topic

Run "regctl <command> -h" for flags.`)
}

type signOutput struct {
	ImageRef  string `json:"image_ref"`
	Key       string `json:"key"`
	ExpiresIn string `json:"expires_in"`
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	key := fs.String("key", "", "Storage key of the uploaded image (required)")
	signingKey := fs.String("signing-key", envOr("IMAGE_REF_SIGNING_KEY", devSigningKey), "HMAC key for references")
	ttl := fs.Duration("ttl", 24*time.Hour, "Reference lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("-key is required")
	}
	ref, err := images.NewRefSigner(*signingKey, *ttl).Sign(*key)
	if err != nil {
		return fmt.Errorf("sign reference: %w", err)
	}
	return writeJSON(out, signOutput{ImageRef: ref, Key: *key, ExpiresIn: ttl.String()})
}

type parseOutput struct {
	FullName   string `json:"full_name"`
	Amount     string `json:"amount"`
	Course     string `json:"course"`
	CourseDate string `json:"course_date"`
}

func runParse(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	marker := fs.String("venue-marker", envOr("PAYMENT_VENUE_MARKER", defaultVenueMarker), "Text that ends the course line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read notification: %w", err)
	}
	event, err := payments.NewExtractor(*marker).Extract(string(body))
	if err != nil {
		return err
	}
	return writeJSON(out, parseOutput{
		FullName:   event.FullName,
		Amount:     event.Amount.StringFixed(2),
		Course:     event.Course,
		CourseDate: event.CourseDate,
	})
}

func runInject(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	brokers := fs.String("brokers", envOr("KAFKA_BROKERS", "localhost:9092"), "Comma-separated broker list")
	topic := fs.String("topic", envOr("KAFKA_PAYMENTS_TOPIC", defaultTopic), "Payments topic")
	subject := fs.String("subject", "Payment received", "Notification subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read notification: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return fmt.Errorf("notification body on stdin is empty")
	}

	n := payments.Notification{ID: uuid.NewString(), Subject: *subject, Body: string(body)}
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prod, err := producer.New(producer.Config{Brokers: *brokers, Acks: "all", DeliveryTimeout: 10 * time.Second}, logger)
	if err != nil {
		return err
	}
	defer prod.Close() //nolint:errcheck // flushes before exit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := prod.Produce(ctx, &producer.Message{Topic: *topic, Key: []byte(n.ID), Value: value}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	fmt.Fprintf(out, "published notification %s to %s\n", n.ID, *topic)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
