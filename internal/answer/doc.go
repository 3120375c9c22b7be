// Package answer assembles a budgeted grounding context from ranked passages,
// asks the generation model for an answer, and reports exactly the citations
// that were given to the model.
//
// Passages are included in rank order while they fit the budget. The first
// passage that does not fit ends the context, so the returned citations are
// always a dense prefix of the ranked list. A rank-1 passage that alone
// exceeds the budget is truncated rather than dropped.
package answer
