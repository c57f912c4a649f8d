// Tollgate is a cost-aware model selection service.
//
// It keeps per-scope budgets, raises threshold alerts with enforcement
// actions, and picks the model for each request by weighing cost against
// quality, task fit and past reliability. Requests can be steered inline
// through the chat completions proxy or selected explicitly over the API.
//
// Usage:
//
//	# Start the service
//	tollgate run --config config.yaml
//
//	# Check a catalog file
//	tollgate catalog validate models.yaml
//
//	# Inspect budgets in the configured storage
//	tollgate budget status team-platform
//	tollgate budget report team-platform --group-by model --output csv
package main

func main() {
	Execute()
}
