package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"market-stream/src/cache"
	"market-stream/src/helpers"
	"market-stream/src/metrics"
	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// Inbound actions
// -----------------------------------------------------------------------------

// clientAction is one parsed inbound message. The set of implementations is closed.
type clientAction interface {
	actionName() string
}

type heartbeatAction struct{}
type subscribeAction struct{ Symbols []string }
type unsubscribeAction struct{ Symbols []string }
type addAssetAction struct{ Symbol string }
type removeAssetAction struct{ Symbol string }
type setTimeframeAction struct{ Timeframe string }
type refreshAction struct{ Symbols []string }

func (heartbeatAction) actionName() string    { return "heartbeat" }
func (subscribeAction) actionName() string    { return "subscribe" }
func (unsubscribeAction) actionName() string  { return "unsubscribe" }
func (addAssetAction) actionName() string     { return "add_asset" }
func (removeAssetAction) actionName() string  { return "remove_asset" }
func (setTimeframeAction) actionName() string { return "set_timeframe" }
func (refreshAction) actionName() string      { return "refresh" }

// -----------------------------------------------------------------------------

// parseAction decodes and validates one inbound message.
func parseAction(raw []byte) (clientAction, error) {
	var in models.MInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, helpers.NewProtocolError("invalid JSON message", err)
	}

	switch in.Action {
	case "heartbeat":
		return heartbeatAction{}, nil

	case "subscribe", "unsubscribe":
		symbols := normalizeSymbols(append(in.Symbols, in.Symbol))
		if len(symbols) == 0 {
			return nil, helpers.NewProtocolError(fmt.Sprintf("%s requires symbols", in.Action), nil)
		}
		if in.Action == "subscribe" {
			return subscribeAction{Symbols: symbols}, nil
		}
		return unsubscribeAction{Symbols: symbols}, nil

	case "add_asset", "remove_asset":
		symbol := models.NormalizeSymbol(in.Symbol)
		if symbol == "" {
			return nil, helpers.NewProtocolError(fmt.Sprintf("%s requires a symbol", in.Action), nil)
		}
		if in.Action == "add_asset" {
			return addAssetAction{Symbol: symbol}, nil
		}
		return removeAssetAction{Symbol: symbol}, nil

	case "set_timeframe":
		if in.Timeframe == "" {
			return nil, helpers.NewProtocolError("set_timeframe requires a timeframe", nil)
		}
		return setTimeframeAction{Timeframe: in.Timeframe}, nil

	case "refresh":
		return refreshAction{Symbols: normalizeSymbols(append(in.Symbols, in.Symbol))}, nil

	case "":
		return nil, helpers.NewProtocolError("missing action", nil)

	default:
		return nil, helpers.NewProtocolError(fmt.Sprintf("unknown action '%s'", in.Action), nil)
	}
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage parses and applies one inbound message. Bad input is answered
// with an error message; the connection stays open.
func (s *FastAPIServer) HandleClientMessage(ctx context.Context, c *Client, raw []byte) {
	action, err := parseAction(raw)
	if err != nil {
		s.replyError(ctx, c, err)
		return
	}

	if err := s.dispatch(ctx, c, action); err != nil && !errors.Is(err, helpers.ErrNotRegistered) {
		s.replyError(ctx, c, err)
	}
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) dispatch(ctx context.Context, c *Client, action clientAction) error {
	switch a := action.(type) {
	case heartbeatAction:
		s.registry.TouchHeartbeat(c)
		return s.registry.Send(ctx, c, models.NewOutbound(models.MessageHeartbeatResponse))

	case subscribeAction:
		before := s.subscriptions.SubscriptionsOf(c.ID)
		symbols, err := s.registry.Subscribe(c, a.Symbols)
		if err != nil {
			return err
		}
		if err := s.sendWatchlist(ctx, c, symbols); err != nil {
			return err
		}
		// Tick updates only carry changed fields, so a new symbol starts from a full snapshot
		added := addedSymbols(before, symbols)
		if len(added) == 0 {
			return nil
		}
		return s.sendQuotes(ctx, c, added)

	case unsubscribeAction:
		symbols, err := s.registry.Unsubscribe(c, a.Symbols)
		if err != nil {
			return err
		}
		return s.sendWatchlist(ctx, c, symbols)

	case addAssetAction:
		symbols, err := s.registry.Subscribe(c, []string{a.Symbol})
		if err != nil {
			return err
		}
		if err := s.sendWatchlist(ctx, c, symbols); err != nil {
			return err
		}
		snap, err := s.cache.Fetch(ctx, cache.SeriesKey(a.Symbol, c.Timeframe()), s.fetch)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", a.Symbol, err)
		}
		return s.sendUpdate(ctx, c, map[string]interface{}{a.Symbol: snap})

	case removeAssetAction:
		symbols, err := s.registry.Unsubscribe(c, []string{a.Symbol})
		if err != nil {
			return err
		}
		return s.sendWatchlist(ctx, c, symbols)

	case setTimeframeAction:
		if !slices.Contains(s.Config.Timeframes, a.Timeframe) {
			return helpers.NewProtocolError(fmt.Sprintf("unsupported timeframe '%s'", a.Timeframe), nil)
		}
		c.SetTimeframe(a.Timeframe)

		notice := models.NewOutbound(models.MessageNotification)
		notice.Message = fmt.Sprintf("Timeframe set to %s", a.Timeframe)
		if err := s.registry.Send(ctx, c, notice); err != nil {
			return err
		}
		return s.sendSeries(ctx, c, s.viewSymbols(c))

	case refreshAction:
		symbols := a.Symbols
		if len(symbols) == 0 {
			symbols = s.viewSymbols(c)
		}
		return s.sendSeries(ctx, c, symbols)

	default:
		return helpers.NewProtocolError(fmt.Sprintf("unhandled action %T", action), nil)
	}
}

// -----------------------------------------------------------------------------

// viewSymbols is what the client currently watches: its subscriptions, or the default set.
func (s *FastAPIServer) viewSymbols(c *Client) []string {
	if symbols := s.subscriptions.SubscriptionsOf(c.ID); len(symbols) > 0 {
		return symbols
	}
	return normalizeSymbols(s.Config.Scheduler.DefaultSymbols)
}

// -----------------------------------------------------------------------------

// sendSeries loads the chart of every symbol in the client's timeframe and sends one
// update. Symbols that fail are sent as error placeholders.
func (s *FastAPIServer) sendSeries(ctx context.Context, c *Client, symbols []string) error {
	symbols = s.capSymbols(c, symbols)
	tf := c.Timeframe()
	keys := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		keys = append(keys, cache.SeriesKey(sym, tf))
	}

	results := s.cache.RefreshMany(ctx, keys, s.fetch)

	data := make(map[string]interface{}, len(symbols))
	for _, sym := range symbols {
		res := results[cache.SeriesKey(sym, tf)]
		if res.Err != nil {
			data[sym] = errorPlaceholder(sym, res.Err)
			continue
		}
		data[sym] = res.Snapshot
	}
	return s.sendUpdate(ctx, c, data)
}

// -----------------------------------------------------------------------------

// sendQuotes sends the current quote snapshot of symbols in one update.
func (s *FastAPIServer) sendQuotes(ctx context.Context, c *Client, symbols []string) error {
	symbols = s.capSymbols(c, symbols)
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = cache.QuoteKey(sym)
	}

	results := s.cache.RefreshMany(ctx, keys, s.fetch)

	data := make(map[string]interface{}, len(symbols))
	for i, sym := range symbols {
		res := results[keys[i]]
		if res.Err != nil {
			data[sym] = errorPlaceholder(sym, res.Err)
			continue
		}
		data[sym] = res.Snapshot
	}
	return s.sendUpdate(ctx, c, data)
}

// -----------------------------------------------------------------------------

// capSymbols bounds a client supplied list the same way the scheduler bounds a tick.
func (s *FastAPIServer) capSymbols(c *Client, symbols []string) []string {
	limit := s.Config.Scheduler.MaxSymbolsPerTick
	if limit > 0 && len(symbols) > limit {
		s.Logger.Warning("Client %s asked for %d symbols, serving the first %d", c.ID, len(symbols), limit)
		return symbols[:limit]
	}
	return symbols
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) sendUpdate(ctx context.Context, c *Client, data map[string]interface{}) error {
	msg := models.NewOutbound(models.MessageUpdate)
	msg.Data = data
	return s.registry.Send(ctx, c, msg)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) sendWatchlist(ctx context.Context, c *Client, symbols []string) error {
	msg := models.NewOutbound(models.MessageWatchlist)
	msg.Data = models.MWatchlistPayload{Symbols: symbols}
	return s.registry.Send(ctx, c, msg)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) replyError(ctx context.Context, c *Client, err error) {
	var protoErr *helpers.ProtocolError
	if errors.As(err, &protoErr) {
		s.metrics.Increment(metrics.ProtocolErrors)
	}
	s.Logger.Debug("Client %s: %v", c.ID, err)

	msg := models.NewOutbound(models.MessageError)
	msg.Message = err.Error()
	_ = s.registry.Send(ctx, c, msg)
}

// -----------------------------------------------------------------------------

func errorPlaceholder(symbol string, err error) map[string]string {
	return map[string]string{
		"symbol": symbol,
		"type":   models.MessageError,
		"error":  err.Error(),
	}
}

// -----------------------------------------------------------------------------

func addedSymbols(before, after []string) []string {
	var out []string
	for _, sym := range after {
		if !slices.Contains(before, sym) {
			out = append(out, sym)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func normalizeSymbols(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if sym := models.NormalizeSymbol(r); sym != "" && !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	return out
}
