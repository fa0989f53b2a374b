// Package llm provides the language-model capabilities used by a run: free
// text generation for the simulated user and candidate ranking for the loose
// selector. Both sit on a langchaingo llms.Model, so any provider langchaingo
// supports can back a trajectory, and tests can substitute FakeModel.
//
// Example:
//
//	model, err := llm.NewModel(trajectory.ModelConfig{Provider: "openai", Model: "gpt-4o-mini"})
//	if err != nil {
//	    return err
//	}
//	client := llm.New(model, llm.Options{RequestsPerMinute: 60})
//	text, err := client.Generate(ctx, systemPrompt, prompt)
package llm
