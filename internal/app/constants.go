package app

const (
	Name           = "ctigo"
	ConfigFilename = "config.json"
	DBFilename     = "readings.db"
	LogFilename    = "ctigo.log"

	// EnvUsername and EnvPassword hold the CTI login for the CLI.
	EnvUsername = "ARBIN_CTI_USERNAME"
	EnvPassword = "ARBIN_CTI_PASSWORD"
)
