package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Notifier presenta el estado de cada ciclo al usuario.
type Notifier interface {
	// Notify muestra el resumen del ciclo y las posiciones abiertas.
	// En la implementación de consola, imprime una tabla formateada.
	Notify(ctx context.Context, report domain.CycleReport) error
}
