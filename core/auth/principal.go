package auth

import (
	"strconv"

	"pipewise-ops/core/store"
)

type contextKey string

// PrincipalContextKey carries the authenticated caller through the request
// context.
const PrincipalContextKey contextKey = "principal"

// Principal is the authenticated caller: operations staff with the shared
// admin token, a portal customer, or the workflow engine on callbacks.
type Principal struct {
	Role     string
	Name     string
	Customer *store.Customer
}

func Admin() *Principal {
	return &Principal{Role: "admin", Name: "admin"}
}

func CustomerPrincipal(c *store.Customer) *Principal {
	name := "customer"
	if c != nil {
		name = "customer:" + strconv.FormatInt(c.ID, 10)
	}
	return &Principal{Role: "customer", Name: name, Customer: c}
}

func Engine() *Principal {
	return &Principal{Role: "engine", Name: "workflow-engine"}
}
