package utils

import (
	"strings"
	"time"

	"market-stream/src/models"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers "is this market open" using scmhub/calendar.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	AlwaysOn bool // crypto and forex quotes
	Timezone *time.Location
}

// Symbol suffix to ISO 10383 MIC, see scmhub/calendar for the supported codes.
var suffixToMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".ST": "xsto",
	".CO": "xcse",
	".HE": "xhel",
	".VI": "xwbo",
	".SW": "xswx",
	".TO": "xtse",
	".V":  "xtsx",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
	".KS": "xkrx",
	".TW": "xtai",
	".SS": "xshg",
	".SZ": "xshe",
}

// -----------------------------------------------------------------------------

// MICForSymbol maps a symbol to its exchange, defaulting to NYSE.
func MICForSymbol(symbol string) string {
	upper := strings.ToUpper(symbol)
	for suffix, mic := range suffixToMIC {
		if strings.HasSuffix(upper, suffix) {
			return mic
		}
	}
	return "xnys"
}

// -----------------------------------------------------------------------------

// GetCalendar returns the calendar for an instrument. Crypto and forex quotes
// are treated as always open; everything else goes through its exchange.
func GetCalendar(inst models.MInstrument) *TradingCalendar {
	if inst.Kind == models.KindCrypto || inst.Kind == models.KindForex {
		return &TradingCalendar{MIC: "24x7", AlwaysOn: true, Timezone: time.UTC}
	}
	return calendarForMIC(MICForSymbol(inst.Symbol))
}

// -----------------------------------------------------------------------------

func calendarForMIC(mic string) *TradingCalendar {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		mic = "xnys"
		cal = calendar.GetCalendar(mic)
	}

	if cal == nil {
		// Simple fallback: Mon-Fri 09:30-16:00 New York
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC
		}
		return &TradingCalendar{MIC: mic, Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.AlwaysOn {
		return true
	}
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.AlwaysOn {
		return true
	}
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		hour, minute := t.Hour(), t.Minute()
		return (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16
	}

	return tc.Calendar.IsOpen(t)
}
