package providers

import (
	"fmt"
	"os"
	"strings"
)

// GenericEndpoint derives the OpenAI compatible base URL of an unregistered
// provider from its name.
func GenericEndpoint(name string) string {
	return fmt.Sprintf("https://api.%s.com/v1", strings.ToLower(strings.TrimSpace(name)))
}

// GenericAPIKey reads <NAME>_API_KEY from the environment.
func GenericAPIKey(name string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))

	return os.Getenv(key + "_API_KEY")
}

// Generic is the fallback for providers nobody registered: a chat-completion
// call against the endpoint derived from the provider name.
func Generic(name string) Provider {
	return NewChatCompletion(name, GenericEndpoint(name), GenericAPIKey(name))
}
