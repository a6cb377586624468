// Package schema resolves, caches and enforces the JSON Schema contracts that
// every message on the polako bus must satisfy.
//
// Contracts live in a directory tree:
//
//	{contractsDir}/envelope.json                 fixed envelope schema
//	{contractsDir}/{domain}/{messagetype}.json   one file per message type
//	{contractsDir}/{domain}/email_messages.json  legacy bundle with a "definitions" map
//
// A Store loads documents from that tree through an afero.Fs and caches every
// file it successfully parses for the lifetime of the process. Lookups walk an
// ordered list of strategies and the first one that finds the type wins.
//
// A ContractValidator sits on top of a Store. It validates payloads against
// their domain schema and builds envelopes, checking each against the
// envelope schema before handing it back:
//
//	store := schema.NewStore(afero.NewOsFs(), "/etc/polako/contracts")
//	validator := schema.NewContractValidator(store)
//
//	if err := validator.Validate("mailing", "SuccessEmail", payload); err != nil {
//	    return err // *schema.ValidationError
//	}
//	env, err := validator.CreateEnvelope("SuccessEmail", payload,
//	    schema.WithCorrelationID(correlationID),
//	    schema.WithSender("billing"))
package schema
