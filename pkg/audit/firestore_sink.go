package audit

import (
	"context"
	"fmt"
	"log"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreSink writes session outcome receipts to
// /sessionOutcomes/{sessionId} for real-time compliance dashboards, the
// same enabled/disabled client-wrapper shape as the teacher's
// firestore.Client: when disabled, every operation is a silent no-op so
// the coordinator can be built identically in every environment and only
// flip a config flag to turn the sink on.
type FirestoreSink struct {
	app       *firebase.App
	client    *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// FirestoreConfig configures a FirestoreSink.
type FirestoreConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	Logger          *log.Logger
}

// NewFirestoreSink dials Firestore when cfg.Enabled; otherwise it returns a
// fully-formed no-op sink without making any network call, matching the
// teacher's "disabled Firestore never dials" contract.
func NewFirestoreSink(ctx context.Context, cfg FirestoreConfig) (*FirestoreSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[audit.firestore] ", log.LstdFlags)
	}
	sink := &FirestoreSink{projectID: cfg.ProjectID, logger: logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		logger.Println("firestore audit sink disabled - running in no-op mode")
		return sink, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("audit: firestore sink enabled but project id is empty")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: create firestore client: %w", err)
	}
	sink.app = app
	sink.client = client
	logger.Printf("firestore audit sink initialized for project %s", cfg.ProjectID)
	return sink, nil
}

func (f *FirestoreSink) isEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// Record upserts the receipt at /sessionOutcomes/{sessionId}. Terminal
// receipts are never updated after the first write — a session reaches
// exactly one terminal state — but Set+MergeAll is used anyway in case an
// operator needs to backfill FailureReason after the fact.
func (f *FirestoreSink) Record(ctx context.Context, receipt Receipt) error {
	if !f.isEnabled() {
		f.logger.Printf("firestore audit sink disabled - skipping receipt for session %s", receipt.SessionID)
		return nil
	}
	if f.client == nil {
		return fmt.Errorf("audit: firestore client not initialized")
	}

	doc := map[string]any{
		"sessionId":     receipt.SessionID,
		"outcome":       string(receipt.Outcome),
		"threshold":     receipt.Threshold,
		"signers":       receipt.Signers,
		"txChecksum":    receipt.TxChecksum,
		"transactionId": receipt.TransactionID,
		"failureReason": receipt.FailureReason,
		"createdAt":     receipt.CreatedAt,
		"closedAt":      receipt.ClosedAt,
	}
	_, err := f.client.Doc("sessionOutcomes/"+receipt.SessionID).Set(ctx, doc, gcpfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("audit: write session outcome: %w", err)
	}
	return nil
}

func (f *FirestoreSink) Health(ctx context.Context) error {
	if !f.isEnabled() {
		return nil
	}
	if f.client == nil {
		return fmt.Errorf("audit: firestore client not initialized")
	}
	_, err := f.client.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("audit: firestore health check failed: %w", err)
	}
	return nil
}

func (f *FirestoreSink) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}

// isNotFound reports whether err is Firestore's NotFound status — the
// expected outcome of a health-check ping against a document that was
// never written, not a connectivity failure.
func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
