package outbox

import (
	"github.com/goccy/go-json"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
)

func unmarshalEnvelope(data []byte, out *events.Envelope) error {
	return json.Unmarshal(data, out)
}
