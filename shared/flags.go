package shared

import "github.com/alecthomas/kingpin/v2"

type FlagHolder interface {
	Flag(name, help string) *kingpin.FlagClause
}

// RegisterClientFlags binds the CLI agent settings of c. Flags left unset
// keep their zero value so that ResolveConfig can fill them.
func (c *Config) RegisterClientFlags(fh FlagHolder) {
	fh.Flag("credential.url", "Backend endpoint answering with a realtime credential.").
		Envar("VOICE_SHOP_CREDENTIAL_URL").
		StringVar(&c.CredentialURL)
	fh.Flag("credential.path", "JSON path of the token in the credential response. Repeatable, tried in order.").
		StringsVar(&c.CredentialTokenPaths)
	fh.Flag("realtime.url", "Realtime calls endpoint used for the SDP exchange.").
		Envar("VOICE_SHOP_REALTIME_URL").
		StringVar(&c.RealtimeURL)
	fh.Flag("realtime.model", "Realtime model.").
		StringVar(&c.Model)
	fh.Flag("ice.server", "STUN/TURN server URL. Repeatable.").
		StringsVar(&c.ICEServers)
	fh.Flag("volume.interval", "Microphone level sampling cadence.").
		DurationVar(&c.VolumeInterval)
	fh.Flag("negotiation.timeout", "Timeout of the SDP exchange request.").
		DurationVar(&c.NegotiationTimeout)
	c.registerLogFlags(fh)
}

// RegisterKeyServerFlags binds the key server settings of c.
func (c *Config) RegisterKeyServerFlags(fh FlagHolder) {
	fh.Flag("listen", "Address the key server listens on.").
		Envar("VOICE_SHOP_LISTEN").
		StringVar(&c.KeyServer.Listen)
	fh.Flag("model", "Model the minted sessions are created for.").
		StringVar(&c.KeyServer.Model)
	fh.Flag("voice", "Assistant voice.").
		StringVar(&c.KeyServer.Voice)
	fh.Flag("instructions", "Session instructions.").
		StringVar(&c.KeyServer.Instructions)
	fh.Flag("allowed-origin", "Value of the Access-Control-Allow-Origin header.").
		StringVar(&c.KeyServer.AllowedOrigin)
	c.registerLogFlags(fh)
}

func (c *Config) registerLogFlags(fh FlagHolder) {
	fh.Flag("log.file", "Log file; rotated by size.").
		StringVar(&c.Log.File)
	fh.Flag("log.max-size", "Maximum log file size in megabytes before rotation.").
		IntVar(&c.Log.MaxSizeMB)
	fh.Flag("log.max-backups", "Rotated log files to keep.").
		IntVar(&c.Log.MaxBackups)
	fh.Flag("log.max-age", "Days to keep rotated log files.").
		IntVar(&c.Log.MaxAgeDays)
	fh.Flag("log.compress", "Compress rotated log files.").
		BoolVar(&c.Log.Compress)
}
