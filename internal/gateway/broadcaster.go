package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

// ChannelFor names the stream a result belongs to, e.g. "BTCUSDT:1h".
func ChannelFor(symbol, timeframe string) string {
	return strings.ToUpper(symbol) + ":" + timeframe
}

// Broadcast wraps res in an envelope and sends it to every client whose
// filter matches. Slow clients miss the message rather than block.
func (h *Hub) Broadcast(res analysis.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		zap.L().Error("gateway: encode result", zap.String("symbol", res.Symbol), zap.Error(err))
		return
	}
	channel := ChannelFor(res.Symbol, res.Timeframe)
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := appendEnvelope(nil, "result", channel, data, now, seq)
	h.latest[channel] = latestEntry{Envelope: buf, TS: now, Seq: seq}
	h.mu.Unlock()

	h.replay.Push(seq, channel, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// appendEnvelope writes
// {"type":...,"channel":...,"data":...,"ts":...,"seq":N} to buf.
// data must already be valid JSON.
func appendEnvelope(buf []byte, typ, channel string, data []byte, ts time.Time, seq int64) []byte {
	if buf == nil {
		buf = make([]byte, 0, len(channel)+len(data)+128)
	}
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
