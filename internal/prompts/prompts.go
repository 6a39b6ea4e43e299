package prompts

import "strings"

// RecipeSystemPrompt frames the downstream generation model: it receives a
// product plus one or more creative concepts extracted from competitor ads
// and must produce a single ad creative brief.
const RecipeSystemPrompt = `You are an advertising creative director. You will receive a product (name, sales page attributes) and one or more creative concepts extracted from competitor ads (layout, hook, tone, visual elements). Produce one coherent ad creative brief that applies the concepts' proven structure to this product. Keep the competitors' framework, never their brand assets or claims. Output a brief with: headline, primary text, visual direction, and a text-to-image prompt.`

// RecipeUserPromptTemplate is the per-recipe instruction. Placeholders are
// substituted by BuildRecipeUserPrompt, not by the model.
const RecipeUserPromptTemplate = `Product: {{product_name}}
Sales page: {{sales_url}}

Apply the attached creative concepts to this product. Match the strongest concept's hook style; adapt all copy to the product's own attributes.`

// BuildRecipeUserPrompt substitutes the product fields into the user prompt
// template.
// Parameters:
//   - productName: product display name.
//   - salesURL: product sales page URL.
// Returns:
//   - string: filled-in user prompt.
func BuildRecipeUserPrompt(productName, salesURL string) string {
	out := strings.ReplaceAll(RecipeUserPromptTemplate, "{{product_name}}", productName)
	out = strings.ReplaceAll(out, "{{sales_url}}", salesURL)
	return out
}
