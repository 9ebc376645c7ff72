package interfaces

import "market-stream/src/models"

// -----------------------------------------------------------------------------
// IInstrumentCatalog resolves symbols to tradable instruments.
// -----------------------------------------------------------------------------

type IInstrumentCatalog interface {

	// Resolve returns the catalog entry, false with a best guess for unknown symbols.
	Resolve(symbol string) (models.MInstrument, bool)

	// -----------------------------------------------------------------------------

	Instruments() []models.MInstrument
}
