package page

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

const stylesheetSource = `
@keyframes newsletter-spin {
  from { transform: rotate(0deg); }
  to { transform: rotate(360deg); }
}

@keyframes newsletter-dismiss {
  from { opacity: 1; }
  to { opacity: 0; }
}

.%[1]s button:disabled,
.%[1]s input[type="submit"]:disabled {
  opacity: 0.7;
  cursor: not-allowed;
}
`

// BuildStylesheet returns the minified stylesheet injected into every page.
func BuildStylesheet(formClass string) (string, error) {
	result := api.Transform(fmt.Sprintf(stylesheetSource, formClass), api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("failed to minify stylesheet: %s", result.Errors[0].Text)
	}
	return strings.TrimSpace(string(result.Code)), nil
}
