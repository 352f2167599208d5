package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/amimof/huego"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ErrNoBridge is returned when discovery finds nothing.
var ErrNoBridge = errors.New("no Hue bridge found")

const hueService = "_hue._tcp"

// Discover locates a bridge on the local network. mDNS is tried first,
// then the meethue N-UPnP endpoint. Only the first bridge found is used.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if addr := discoverMDNS(ctx, timeout); addr != "" {
		log.Info().Str("address", addr).Str("method", "mdns").Msg("Discovered Hue bridge")
		return addr, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	bridges, err := huego.DiscoverAll()
	if err != nil {
		return "", errors.Join(ErrNoBridge, err)
	}
	for _, b := range bridges {
		if b.Host == "" {
			continue
		}
		if len(bridges) > 1 {
			log.Warn().Int("found", len(bridges)).Str("using", b.Host).Msg("Multiple bridges found, using the first")
		}
		log.Info().Str("address", b.Host).Str("method", "nupnp").Msg("Discovered Hue bridge")
		return b.Host, nil
	}

	return "", ErrNoBridge
}

func discoverMDNS(ctx context.Context, timeout time.Duration) string {
	entries := make(chan *mdns.ServiceEntry, 10)

	go func() {
		params := &mdns.QueryParam{
			Service:             hueService,
			Domain:              "local",
			Timeout:             timeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		if err := mdns.Query(params); err != nil {
			log.Debug().Err(err).Msg("mDNS bridge query failed")
		}
		close(entries)
	}()

	found := ""
	for entry := range entries {
		if found != "" || ctx.Err() != nil {
			continue // drain until the query closes the channel
		}
		if entry.AddrV4 == nil {
			continue
		}
		found = entry.AddrV4.String()
	}
	return found
}
