package cnst

const (
	// AppName is the name of the application
	AppName = "maintrack"
	// CommandName is the name of the apiserver command
	CommandName = "apiserver"
	// ApiServerYaml is the default apiserver configuration file name
	ApiServerYaml = "apiserver.yaml"
)
