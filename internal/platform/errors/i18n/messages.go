package i18n

// Codes mirror the parent errors package, which imports this one.
const (
	CodeInvalidKey       = "INVALID_KEY"
	CodeInvalidOptions   = "INVALID_OPTIONS"
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeSweepFailure     = "SWEEP_FAILURE"
)

var enUS = map[string]string{
	CodeInvalidKey:       "The cache key is invalid.{{if .MaxLength}} Keys are limited to {{.MaxLength}} bytes.{{end}}",
	CodeInvalidOptions:   "The expiration options are invalid.{{if .Reason}} {{.Reason}}{{end}}",
	CodeConfiguration:    "The cache is not configured correctly.",
	CodeNotFound:         "The cache entry was not found.",
	CodeStoreUnavailable: "The cache store is unavailable. Try again later.",
	CodeSweepFailure:     "Expired cache entries could not be removed.",
}

var ptBR = map[string]string{
	CodeInvalidKey:       "A chave de cache é inválida.{{if .MaxLength}} As chaves são limitadas a {{.MaxLength}} bytes.{{end}}",
	CodeInvalidOptions:   "As opções de expiração são inválidas.{{if .Reason}} {{.Reason}}{{end}}",
	CodeConfiguration:    "O cache não está configurado corretamente.",
	CodeNotFound:         "A entrada de cache não foi encontrada.",
	CodeStoreUnavailable: "O armazenamento do cache está indisponível. Tente novamente mais tarde.",
	CodeSweepFailure:     "Não foi possível remover as entradas de cache expiradas.",
}
