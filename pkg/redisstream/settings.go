package redisstream

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`
}

// GroupFor returns the consumer group of one backend instance. Every instance
// needs its own group so that each of them sees every event and can fan it out to
// the websocket clients it holds.
func (s Settings) GroupFor(instanceID string) string {
	if s.Group == "" {
		return "pawfect:" + instanceID
	}
	return s.Group + ":" + instanceID
}
