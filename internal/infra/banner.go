package infra

import (
	"fmt"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
)

// PrintBanner displays the startup banner with the active feed source
func PrintBanner(cfg *Config) {
	source := strings.ToUpper(cfg.Feed.Source)
	version := cfg.App.Version

	color := ColorGreen
	sourceDesc := "UNKNOWN FEED"

	switch cfg.Feed.Source {
	case FeedSourceWS:
		color = ColorGreen
		sourceDesc = "LIVE KIS WEBSOCKET FEED"
	case FeedSourcePoll:
		color = ColorYellow
		sourceDesc = "KIS REST POLLING (DELAYED TICKS)"
	case FeedSourceReplay:
		color = ColorCyan
		sourceDesc = "RECORDED SESSION REPLAY"
	case FeedSourceSim:
		color = ColorMagenta
		sourceDesc = "SYNTHETIC RANDOM WALK"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#               📈 KIS Paper Trading Server               #%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#   FEED:    %-36s #%s\n", color, source, ColorReset)
	fmt.Printf("%s#   TYPE:    %-36s #%s\n", color, sourceDesc, ColorReset)
	fmt.Printf("%s#   VERSION: %-36s #%s\n", color, version, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)

	if cfg.Feed.Source == FeedSourceWS {
		fmt.Printf("%s#   LIVE MARKET DATA: FILLS ARE SIMULATED, ORDERS NEVER   #%s\n", ColorYellow, ColorReset)
		fmt.Printf("%s#   REACH THE EXCHANGE                                    #%s\n", ColorYellow, ColorReset)
	}

	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Println()
}
