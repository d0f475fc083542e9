package asynctls

import (
	"git.sr.ht/~rumpelsepp/rlog"
	"io"
)

// Logger is silent by default. Wire it to stderr and raise the level to
// trace handshake progress and state transitions.
var Logger = rlog.NewLogger(io.Discard)

func init() {
	Logger.SetModule("[asynctls]")
}
