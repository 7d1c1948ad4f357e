package chat

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type noRowsRow struct{}

func (noRowsRow) Scan(_ ...any) error { return pgx.ErrNoRows }

// LastMessage and GetMessage branch on pgx.ErrNoRows after scanning; an empty
// conversation must reach them as the raw scan error, not pre-translated,
// or ErrNoMessages becomes unreachable and a message-less conversation fails
// the whole listing.
func TestScanMessage_PreservesNoRows(t *testing.T) {
	t.Parallel()

	_, err := scanMessage(noRowsRow{})
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("scanMessage must surface pgx.ErrNoRows unchanged, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("scanMessage must not translate the absent row itself")
	}
}

func TestScanConversationInfo_MapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	_, err := scanConversationInfo(noRowsRow{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an absent conversation, got %v", err)
	}
}
