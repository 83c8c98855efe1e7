package laundry

const (
	operationActivate       = "activate"
	operationTick           = "tick"
	operationTopUp          = "topup"
	operationNotify         = "notify"
	operationUpdateSettings = "update_settings"
	operationAddFavorite    = "add_favorite"
	operationRemoveFavorite = "remove_favorite"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	idempotencyKeyDelimiter   = ":"
	idempotencyPrefixActivate = "activation"
	idempotencySuffixBonus    = "bonus"

	millisecondsPerMinute = 60_000

	minimumTopUp         Amount = 10_000
	maximumTopUp         Amount = 100_000_000
	maximumWalletBalance Amount = 1_000_000_000_000
	bonusTopUpFloor      Amount = 200_000
	bonusPercent                = 10
	defaultEntryLimit           = 50
	maximumEntryLimit           = 200
)
