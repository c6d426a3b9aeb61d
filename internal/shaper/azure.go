package shaper

import "strings"

const (
	azureAPIVersionGPT4    = "2023-07-01-preview"
	azureAPIVersionDefault = "2023-03-15-preview"
)

// Azure deployments cannot contain dots, so the 3.5 family is deployed
// under dotless names.
var azureDeploymentAliases = map[string]string{
	"gpt-3.5-turbo":      "gpt-35-turbo",
	"gpt-3.5-turbo-16k":  "gpt-35-turbo-16k",
	"gpt-3.5-turbo-1106": "gpt-35-turbo-1106",
	"gpt-3.5-turbo-0125": "gpt-35-turbo-0125",
}

// AzureDeploymentName maps a model name to its Azure deployment name.
// Unmapped names pass through unchanged.
func AzureDeploymentName(model string) string {
	if alias, ok := azureDeploymentAliases[model]; ok {
		return alias
	}
	return model
}

// AzureAPIVersion returns the api-version query value for a deployment.
func AzureAPIVersion(deployment string) string {
	if deployment == "gpt-4" || deployment == "gpt-4-32k" {
		return azureAPIVersionGPT4
	}
	return azureAPIVersionDefault
}

// AzurePath is the deployment-relative chat completions path.
func AzurePath(deployment, apiVersion string) string {
	return "openai/deployments/" + deployment + "/chat/completions?api-version=" + apiVersion
}

// AzureEndpoint appends the deployment path to endpoint unless it is
// already there. Applying it twice yields the same URL.
func AzureEndpoint(endpoint, deployment, apiVersion string) string {
	path := AzurePath(deployment, apiVersion)
	if strings.HasSuffix(endpoint, path) {
		return endpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint + path
}
