// Package tui renders the terminal dashboard served over SSH. It is a pure
// consumer of the market data core: one binding per session, released when
// the session ends.
package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/binding"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Services carries everything a dashboard session needs.
type Services struct {
	Market   binding.MarketData
	Symbols  []string
	Username string
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type tickMsg time.Time

// Model is the bubbletea model behind one dashboard session.
type Model struct {
	svc     Services
	binding *binding.Binding
	table   table.Model
	width   int
	height  int
}

func NewModel(svc Services) *Model {
	columns := []table.Column{
		{Title: "SYMBOL", Width: 8},
		{Title: "NAME", Width: 18},
		{Title: "PRICE (USD)", Width: 14},
		{Title: "24H %", Width: 9},
		{Title: "MARKET CAP", Width: 16},
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	m := &Model{svc: svc, table: tbl}
	m.binding = binding.New(svc.Market, nil)
	m.binding.SetSymbols(context.Background(), svc.Symbols)
	return m
}

// SetSize adjusts the layout to the session's PTY window.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if height > 8 {
		m.table.SetHeight(height - 6)
	}
}

func (m *Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.binding.Close()
			return m, tea.Quit
		case "r":
			go func() {
				_ = m.svc.Market.RefreshForSymbols(context.Background(), m.binding.Symbols())
			}()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	case tickMsg:
		m.refreshRows()
		return m, tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refreshRows() {
	projection := m.binding.Projection()

	symbols := make([]string, 0, len(projection))
	for symbol := range projection {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	rows := make([]table.Row, 0, len(symbols))
	for _, symbol := range symbols {
		view := projection[symbol]
		if !view.Found {
			rows = append(rows, table.Row{symbol, "-", "-", "-", "-"})
			continue
		}
		change := fmt.Sprintf("%+.2f%%", view.Change24hPct)
		if view.Change24hPct >= 0 {
			change = upStyle.Render(change)
		} else {
			change = downStyle.Render(change)
		}
		rows = append(rows, table.Row{
			symbol,
			view.Name,
			fmt.Sprintf("$%.2f", view.PriceUSD),
			change,
			formatMarketCap(view.MarketCapUSD),
		})
	}
	m.table.SetRows(rows)
}

func (m *Model) View() string {
	title := titleStyle.Render(fmt.Sprintf(" Portfolio Market Dashboard - %s ", m.svc.Username))

	status := "cache: "
	state := m.svc.Market.State()
	switch {
	case m.binding.Loading():
		status += "refreshing..."
	case state.LastRefresh != nil:
		status += fmt.Sprintf("refreshed %s ago, %d coins known",
			time.Since(*state.LastRefresh).Truncate(time.Second), state.CoinCount)
	default:
		status += "empty"
	}
	status += "  |  q quit, r refresh"

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.table.View(),
		statusStyle.Render(status),
	)
}

func formatMarketCap(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("$%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v == 0:
		return "-"
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
