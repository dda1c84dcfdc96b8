// Package openapi loads the asset-service OpenAPI document and verifies at
// startup that every operation this process invokes still exists. Contract
// drift fails fast instead of surfacing as runtime 404s.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation holds a resolved backend operation.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
}

// Contract is an in-memory index of the asset-service operations keyed by
// operationId.
type Contract struct {
	operations map[string]Operation
}

// NewContract creates an empty contract index.
func NewContract() *Contract {
	return &Contract{operations: make(map[string]Operation)}
}

// Load parses the OpenAPI document at the given path and indexes every
// operation that carries an operationId.
func (c *Contract) Load(specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", specPath, err)
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			c.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
			}
		}
	}
	return nil
}

// Get returns the operation for the given operationId.
func (c *Contract) Get(operationID string) (Operation, bool) {
	op, ok := c.operations[operationID]
	return op, ok
}

// OperationIDs returns all indexed operation IDs, sorted.
func (c *Contract) OperationIDs() []string {
	ids := make([]string, 0, len(c.operations))
	for id := range c.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Verify checks that every required operation exists in the contract and
// reports all missing ones at once.
func (c *Contract) Verify(required []string) error {
	var missing []string
	for _, id := range required {
		if _, ok := c.operations[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("openapi: asset-service contract is missing operations: %s",
			strings.Join(missing, ", "))
	}
	return nil
}
