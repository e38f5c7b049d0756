package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"

	"labubufy-server/modules/common/config"
)

// Ledger is the external accounting boundary. The core calls spend on
// confirmed job-start and refund on terminal failure or user cancellation;
// the ledger's own storage and balance invariants live outside this repo.
type Ledger interface {
	Spend(ctx context.Context, userID, sessionID string, credits int) error
	Refund(ctx context.Context, userID, sessionID string, credits int) error
	Balance(ctx context.Context, userID string) (int, error)
}

// SupabaseLedger implements Ledger on the Supabase member/transactions tables.
type SupabaseLedger struct {
	supabase *supabase.Client
}

// NewSupabaseLedger creates the ledger client, or nil when Supabase is not
// configured (callers fall back to NoopLedger).
func NewSupabaseLedger() *SupabaseLedger {
	cfg := config.GetConfig()
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		log.Println("⚠️  [Credit] Supabase not configured, ledger disabled")
		return nil
	}

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ [Credit] Failed to create Supabase client: %v", err)
		return nil
	}

	return &SupabaseLedger{supabase: supabaseClient}
}

// Balance returns the user's current credit balance.
func (l *SupabaseLedger) Balance(ctx context.Context, userID string) (int, error) {
	var users []struct {
		Credits int `json:"credits"`
	}

	data, _, err := l.supabase.From("labubufy_users").
		Select("credits", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch user credits: %w", err)
	}

	if err := json.Unmarshal(data, &users); err != nil {
		return 0, fmt.Errorf("failed to parse user data: %w", err)
	}
	if len(users) == 0 {
		return 0, fmt.Errorf("user not found: %s", userID)
	}

	return users[0].Credits, nil
}

// Spend deducts credits and records a SPEND transaction tied to the session.
func (l *SupabaseLedger) Spend(ctx context.Context, userID, sessionID string, credits int) error {
	return l.apply(ctx, userID, sessionID, -credits, "SPEND", "Labubufy generation started")
}

// Refund returns credits and records a REFUND transaction. Refunds are
// deduplicated by session id so a double call is a logged no-op.
func (l *SupabaseLedger) Refund(ctx context.Context, userID, sessionID string, credits int) error {
	refunded, err := l.hasRefund(sessionID)
	if err != nil {
		log.Printf("⚠️  [Credit] Refund dedup check failed for %s: %v", sessionID, err)
	}
	if refunded {
		log.Printf("⚠️  [Credit] Session %s already refunded, skipping", sessionID)
		return nil
	}

	return l.apply(ctx, userID, sessionID, credits, "REFUND", "Labubufy generation failed")
}

// hasRefund checks the transaction log for an existing refund of the session.
func (l *SupabaseLedger) hasRefund(sessionID string) (bool, error) {
	var txs []struct {
		ID int64 `json:"id"`
	}

	data, _, err := l.supabase.From("labubufy_credit_transactions").
		Select("id", "", false).
		Eq("session_id", sessionID).
		Eq("transaction_type", "REFUND").
		Execute()
	if err != nil {
		return false, fmt.Errorf("failed to query transactions: %w", err)
	}

	if err := json.Unmarshal(data, &txs); err != nil {
		return false, fmt.Errorf("failed to parse transactions: %w", err)
	}
	return len(txs) > 0, nil
}

// apply performs the balance read-modify-write and appends the transaction.
func (l *SupabaseLedger) apply(ctx context.Context, userID, sessionID string, delta int, txType, description string) error {
	current, err := l.Balance(ctx, userID)
	if err != nil {
		return err
	}

	newBalance := current + delta
	log.Printf("💰 [Credit] %s: User=%s Session=%s Balance %d → %d", txType, userID, sessionID, current, newBalance)

	_, _, err = l.supabase.From("labubufy_users").
		Update(map[string]interface{}{
			"credits": newBalance,
		}, "", "").
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update credits: %w", err)
	}

	transactionData := map[string]interface{}{
		"user_id":          userID,
		"transaction_type": txType,
		"amount":           delta,
		"balance_after":    newBalance,
		"description":      description,
		"session_id":       sessionID,
	}

	_, _, err = l.supabase.From("labubufy_credit_transactions").
		Insert(transactionData, false, "", "", "").
		Execute()
	if err != nil {
		log.Printf("⚠️  [Credit] Failed to record %s transaction for session %s: %v", txType, sessionID, err)
	}

	log.Printf("✅ [Credit] %s applied for user %s (%+d credits)", txType, userID, delta)
	return nil
}

// NoopLedger satisfies Ledger when no accounting backend is configured.
type NoopLedger struct{}

func (NoopLedger) Spend(ctx context.Context, userID, sessionID string, credits int) error {
	log.Printf("💰 [Credit] Noop spend: user=%s session=%s credits=%d", userID, sessionID, credits)
	return nil
}

func (NoopLedger) Refund(ctx context.Context, userID, sessionID string, credits int) error {
	log.Printf("💰 [Credit] Noop refund: user=%s session=%s credits=%d", userID, sessionID, credits)
	return nil
}

func (NoopLedger) Balance(ctx context.Context, userID string) (int, error) {
	return 0, nil
}
