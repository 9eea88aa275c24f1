package pg

import "zone_watcher/internal/models"

const (
	listInstrumentsSQL = `
SELECT id, instrument_token, symbol, COALESCE(last_price, 0), last_updated
FROM tickers
WHERE instrument_token IS NOT NULL
ORDER BY id`

	getInstrumentSQL = `
SELECT id, instrument_token, symbol, COALESCE(last_price, 0), last_updated
FROM tickers
WHERE instrument_token = $1`

	updateInstrumentPriceSQL = `
UPDATE tickers SET last_price = $2, last_updated = $3
WHERE id = $1`

	liveZonesSQL = `
SELECT z.id, z.user_id, z.ticker_id, t.symbol, z.type,
       z.entry, z.stoploss, z.target, z.status,
       z.entry_at, z.target_at, z.stoploss_at, z.failed_at,
       u.id, u.name, u.email, COALESCE(u.telegram_chat_id, 0), u.is_admin
FROM zones z
JOIN tickers t ON t.id = z.ticker_id
JOIN users u ON u.id = z.user_id
WHERE z.ticker_id = $1 AND z.status = ANY($2)
ORDER BY z.id`

	// время перехода пишется только один раз
	saveZoneSQL = `
UPDATE zones SET
    status      = $2,
    entry_at    = COALESCE(entry_at, $3),
    target_at   = COALESCE(target_at, $4),
    stoploss_at = COALESCE(stoploss_at, $5),
    failed_at   = COALESCE(failed_at, $6)
WHERE id = $1 AND status = ANY($7)`

	adminsSQL = `
SELECT id, name, email, COALESCE(telegram_chat_id, 0), is_admin
FROM users
WHERE is_admin
ORDER BY id`
)

func liveStatuses() []string {
	out := make([]string, 0, len(models.LiveStatuses))
	for _, s := range models.LiveStatuses {
		out = append(out, string(s))
	}
	return out
}
