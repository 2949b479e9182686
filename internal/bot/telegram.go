package bot

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	tele "gopkg.in/telebot.v3"
)

// MarketReader is the service surface the bot queries. All answers come from
// the cache; the bot never triggers fetches itself.
type MarketReader interface {
	Quote(symbol string) (domain.CoinQuote, bool)
	State() domain.CacheState
}

func StartTelegramBot(market MarketReader) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/price", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send(fmt.Sprintf("Usage: /price BTC\nTracked by default: %s", strings.Join(domain.DefaultSymbols, ", ")))
		}
		symbol := domain.NormalizeSymbol(args[0])
		quote, ok := market.Quote(symbol)
		if !ok {
			return c.Send(fmt.Sprintf("No cached quote for %s yet", symbol))
		}
		msg := fmt.Sprintf(
			"%s (%s)\nPrice: $%.2f\nMarket Cap: $%.0f\n24h Change: %.2f%%\n24h Volume: $%.0f",
			quote.Symbol, quote.Name, quote.PriceUSD, quote.MarketCapUSD, quote.Change24hPct, quote.Volume24h,
		)
		return c.Send(msg)
	})

	b.Handle("/mcap", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send("Usage: /mcap BTC")
		}
		symbol := domain.NormalizeSymbol(args[0])
		quote, ok := market.Quote(symbol)
		if !ok {
			return c.Send(fmt.Sprintf("No cached quote for %s yet", symbol))
		}
		return c.Send(fmt.Sprintf("%s Market Cap\n$%.0f (rank #%d)", quote.Symbol, quote.MarketCapUSD, quote.Rank))
	})

	b.Handle("/state", func(c tele.Context) error {
		state := market.State()
		last := "never"
		if state.LastRefresh != nil {
			last = state.LastRefresh.UTC().Format(time.RFC3339)
		}
		return c.Send(fmt.Sprintf(
			"Cache state\nLoaded: %v\nLoading: %v\nLast refresh: %s\nKnown coins: %d",
			state.Loaded, state.Loading, last, state.CoinCount,
		))
	})

	log.Println("Telegram bot started")
	go b.Start()
}
