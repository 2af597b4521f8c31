package trading

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/broker"
	"tradehook/internal/models"
)

func newPipelineFixture(t *testing.T) (*Pipeline, *fakeRepo, *fakeGateway, *fakeAudit) {
	t.Helper()
	repo := newFakeRepo()
	audit := &fakeAudit{}
	gateway := &fakeGateway{confirmation: &broker.DealConfirmation{
		DealID: "DIAAAA9", Status: models.DealStatusAccepted,
	}}
	provider := &fakeProvider{gateway: gateway}

	user := testUser("s3cret")
	inst := testInstrument(user.ID)
	ctx := context.Background()
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateInstrument(ctx, inst); err != nil {
		t.Fatal(err)
	}

	validator := NewValidator(repo, audit, provider, zerolog.Nop())
	executor := NewExecutor(repo, audit, provider, "GBP", zerolog.Nop())
	pipeline := NewPipeline(validator, executor, repo, audit, zerolog.Nop())
	return pipeline, repo, gateway, audit
}

func webhookJSON(t *testing.T, secret string) []byte {
	t.Helper()
	body, err := json.Marshal(WebhookPayload{
		Message:   "LSE:IFX UP 100 x 1 1 1 1 1 1 1 1 1 1",
		Secret:    secret,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHandleBodyPlacesOrderEndToEnd(t *testing.T) {
	pipeline, repo, gateway, _ := newPipelineFixture(t)

	if err := pipeline.HandleBody(context.Background(), webhookJSON(t, "s3cret")); err != nil {
		t.Fatalf("HandleBody: %v", err)
	}
	if len(gateway.createdWorking) != 1 {
		t.Fatalf("working orders = %d, want 1", len(gateway.createdWorking))
	}
	if repo.orderCount() != 1 {
		t.Errorf("order rows = %d, want 1", repo.orderCount())
	}

	// SELL at 102% of a 100 open.
	req := gateway.createdWorking[0]
	if !req.Level.Equal(dec("102")) {
		t.Errorf("level = %s, want 102", req.Level)
	}
}

func TestHandleBodyDropsMalformedPayload(t *testing.T) {
	pipeline, repo, gateway, _ := newPipelineFixture(t)

	if err := pipeline.HandleBody(context.Background(), []byte("{oops")); err != nil {
		t.Fatalf("malformed payload should be a handled drop, got %v", err)
	}
	if len(gateway.createdWorking) != 0 || repo.orderCount() != 0 {
		t.Error("malformed payload reached the broker")
	}
}

func TestHandleBodyDropsRejectedAlertSilently(t *testing.T) {
	pipeline, repo, gateway, audit := newPipelineFixture(t)

	if err := pipeline.HandleBody(context.Background(), webhookJSON(t, "wrong")); err != nil {
		t.Fatalf("rejection should not be an error, got %v", err)
	}
	if len(gateway.createdWorking) != 0 || repo.orderCount() != 0 {
		t.Error("rejected alert reached the broker")
	}
	if audit.lastCode() != CodeInvalidSecret {
		t.Errorf("audit code = %s, want %s", audit.lastCode(), CodeInvalidSecret)
	}
}

func TestHandleBodySecondAlertHitsCooldown(t *testing.T) {
	pipeline, repo, gateway, _ := newPipelineFixture(t)
	ctx := context.Background()

	if err := pipeline.HandleBody(ctx, webhookJSON(t, "s3cret")); err != nil {
		t.Fatalf("first alert: %v", err)
	}
	if err := pipeline.HandleBody(ctx, webhookJSON(t, "s3cret")); err != nil {
		t.Fatalf("second alert: %v", err)
	}
	if len(gateway.createdWorking) != 1 {
		t.Errorf("working orders = %d, want 1 (second alert inside cooldown)", len(gateway.createdWorking))
	}
	if repo.orderCount() != 1 {
		t.Errorf("order rows = %d, want 1", repo.orderCount())
	}
}
