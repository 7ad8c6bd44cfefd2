// Package baseapi registers the device's built-in trait definitions
// and command handlers (spec.md §4.9): device, privet, and
// _accessRevocationList, all hosted on one "device" component.
//
// No teacher analog exists for trait-definition-as-data; grounded
// structurally on pkg/fleet's handler-registration pattern
// (NodeManager.Watch / callback table) for the "register handlers,
// then let the queue dispatch" shape, with the schema documents
// themselves built directly against spec.md §4.9's field list.
package baseapi

import "github.com/weaveproject/weave/pkg/jsonval"

func typeSchema(typ string) jsonval.Value {
	return jsonval.Object().Set("type", jsonval.String(typ))
}

func optionalProp(typ string) jsonval.Value {
	return typeSchema(typ)
}

func requiredProp(typ string) jsonval.Value {
	return typeSchema(typ).Set("isRequired", jsonval.Bool(true))
}

func objectSchema(props jsonval.Value) jsonval.Value {
	return jsonval.Object().Set("type", jsonval.String("object")).Set("properties", props)
}

func commandDef(minimalRole string, parameters jsonval.Value) jsonval.Value {
	def := jsonval.Object().Set("minimalRole", jsonval.String(minimalRole))
	if parameters.Kind() == jsonval.KindObject {
		def = def.Set("parameters", parameters)
	}
	return def
}

// traitDefinitions builds the three built-in trait dictionaries
// registered on startup (spec.md §4.9).
func traitDefinitions() jsonval.Value {
	deviceCommands := jsonval.Object().Set("setConfig", commandDef("manager", objectSchema(
		jsonval.Object().
			Set("name", optionalProp("string")).
			Set("description", optionalProp("string")).
			Set("location", optionalProp("string")),
	)))
	deviceState := objectSchema(jsonval.Object().
		Set("name", optionalProp("string")).
		Set("description", optionalProp("string")).
		Set("location", optionalProp("string")).
		Set("hardwareId", optionalProp("string")).
		Set("serialNumber", optionalProp("string")).
		Set("firmwareVersion", optionalProp("string")))
	device := jsonval.Object().Set("commands", deviceCommands).Set("state", deviceState)

	maxRoleEnum := jsonval.Array([]jsonval.Value{
		jsonval.String("viewer"), jsonval.String("user"),
		jsonval.String("manager"), jsonval.String("owner"),
	})
	maxRoleProp := typeSchema("string").Set("enum", maxRoleEnum)
	privetCommands := jsonval.Object().Set("setConfig", commandDef("manager", objectSchema(
		jsonval.Object().
			Set("isLocalAccessEnabled", optionalProp("boolean")).
			Set("maxRoleForAnonymousAccess", maxRoleProp),
	)))
	privetState := objectSchema(jsonval.Object().
		Set("apiVersion", optionalProp("string")).
		Set("isLocalAccessEnabled", optionalProp("boolean")).
		Set("maxRoleForAnonymousAccess", optionalProp("string")))
	privet := jsonval.Object().Set("commands", privetCommands).Set("state", privetState)

	arlCommands := jsonval.Object().
		Set("add", commandDef("owner", objectSchema(
			jsonval.Object().
				Set("userId", requiredProp("string")).
				Set("applicationId", requiredProp("string")).
				Set("revocationTimestamp", requiredProp("number")).
				Set("expirationTime", optionalProp("number")),
		))).
		Set("list", commandDef("owner", jsonval.Value{}))
	arlState := objectSchema(jsonval.Object().Set("capacity", optionalProp("integer")))
	arl := jsonval.Object().Set("commands", arlCommands).Set("state", arlState)

	return jsonval.Object().
		Set("device", device).
		Set("privet", privet).
		Set("_accessRevocationList", arl)
}
