package ports

import (
	"context"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

// SnapshotStore persiste el estado completo del ledger (saldo + apuestas).
type SnapshotStore interface {
	// LoadSnapshot devuelve found=false si todavía no hay nada guardado.
	LoadSnapshot(ctx context.Context) (snap domain.Snapshot, found bool, err error)

	// SaveSnapshot reemplaza el estado guardado por snap.
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error

	Close() error
}
