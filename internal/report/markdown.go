package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders one task result. plot, when set, is linked as an image.
func Markdown(res *model.TaskResult, plot string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "## %s\n\n", res.Label)
	fmt.Fprintf(&b, "- Full model: `%s`\n", res.FullSpec)
	fmt.Fprintf(&b, "- Selected model: `%s` (%s)\n", res.SelectedSpec, res.SelectedSpec.Fingerprint().Short())
	fmt.Fprintf(&b, "- Observations: %d\n", res.N)
	fmt.Fprintf(&b, "- BIC: %.2f\n", res.BIC)
	if res.Inference != nil && res.Inference.RandomEffects.Groups > 0 {
		re := res.Inference.RandomEffects
		fmt.Fprintf(&b, "- Random intercept (%s, %d groups): variance %.4g, residual %.4g\n",
			re.GroupVar, re.Groups, re.InterceptVariance, re.ResidualVariance)
	}
	b.WriteString("\n")

	if bs := res.Bootstrap; bs != nil {
		b.WriteString("### Parametric bootstrap\n\n")
		fmt.Fprintf(&b, "LRT = %.4f, p = %s over %d replicates (seed %d", bs.Observed, pvalue(bs.PValue), len(bs.Reference), bs.Seed)
		if bs.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", bs.Failed)
		}
		fmt.Fprintf(&b, "). Null mean %.3f, 95th percentile %.3f.\n\n", bs.Null.Mean, bs.Null.P95)
	}
	if it := res.Interaction; it != nil {
		b.WriteString("### Interaction test\n\n")
		verdict := "not significant"
		if it.Significant {
			verdict = "significant"
		}
		fmt.Fprintf(&b, "%s: p = %s against threshold %.4g, %s.\n\n", it.Term, pvalue(it.PValue), it.Threshold, verdict)
	}

	if res.Inference != nil {
		b.WriteString("### Regression table\n\n")
		b.WriteString(RegressionTable(res.Inference))
		b.WriteString("\n")
	}

	if c := res.Concurvity; c != nil {
		b.WriteString("### Concurvity\n\n")
		b.WriteString("Worst case:\n\n")
		b.WriteString(ConcurvityTable(c, false))
		b.WriteString("\nObserved:\n\n")
		b.WriteString(ConcurvityTable(c, true))
		b.WriteString("\n")
	}

	if res.Derivatives != nil {
		b.WriteString("### Significant change\n\n")
		if len(res.Intervals) == 0 {
			fmt.Fprintf(&b, "No region where the derivative of %s differs from zero.\n\n", res.Derivatives.Var)
		} else {
			parts := make([]string, len(res.Intervals))
			for i, iv := range res.Intervals {
				parts[i] = fmt.Sprintf("%.2f to %.2f", iv.Start, iv.End)
			}
			fmt.Fprintf(&b, "%s: %s\n\n", res.Derivatives.Var, strings.Join(parts, ", "))
		}
	}

	if plot != "" {
		fmt.Fprintf(&b, "![%s](%s)\n\n", res.Label, plot)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "> **%s**: %s\n\n", w.Code, w.Message)
	}
	return b.Bytes()
}

// Document joins task sections under a title.
func Document(title string, sections ...[]byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, s := range sections {
		b.Write(s)
	}
	return b.Bytes()
}

// HTML converts Markdown into a complete HTML page.
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML(md, p, r)
}
