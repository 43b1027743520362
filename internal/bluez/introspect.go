package bluez

import (
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/srg/gattd/internal/gatt"
)

var serviceIntrospect = introspect.Interface{
	Name: gatt.ServiceInterface,
	Properties: []introspect.Property{
		{Name: gatt.PropUUID, Type: "s", Access: "read"},
		{Name: gatt.PropPrimary, Type: "b", Access: "read"},
		{Name: gatt.PropCharacteristics, Type: "ao", Access: "read"},
	},
}

var characteristicIntrospect = introspect.Interface{
	Name: gatt.CharacteristicInterface,
	Methods: []introspect.Method{
		{Name: "ReadValue", Args: []introspect.Arg{
			{Name: "options", Type: "a{sv}", Direction: "in"},
			{Name: "value", Type: "ay", Direction: "out"},
		}},
		{Name: "WriteValue", Args: []introspect.Arg{
			{Name: "value", Type: "ay", Direction: "in"},
			{Name: "options", Type: "a{sv}", Direction: "in"},
		}},
		{Name: "StartNotify"},
		{Name: "StopNotify"},
	},
	Properties: []introspect.Property{
		{Name: gatt.PropUUID, Type: "s", Access: "read"},
		{Name: gatt.PropService, Type: "o", Access: "read"},
		{Name: gatt.PropValue, Type: "ay", Access: "read"},
		{Name: gatt.PropFlags, Type: "as", Access: "read"},
	},
}

var objectManagerIntrospect = introspect.Interface{
	Name: ObjectManagerInterface,
	Methods: []introspect.Method{
		{Name: "GetManagedObjects", Args: []introspect.Arg{
			{Name: "objects", Type: "a{oa{sa{sv}}}", Direction: "out"},
		}},
	},
}

var advertisementIntrospect = introspect.Interface{
	Name:    AdvertisementInterface,
	Methods: []introspect.Method{{Name: "Release"}},
	Properties: []introspect.Property{
		{Name: "Type", Type: "s", Access: "read"},
		{Name: "ServiceUUIDs", Type: "as", Access: "read"},
		{Name: "LocalName", Type: "s", Access: "read"},
		{Name: "Includes", Type: "as", Access: "read"},
	},
}

var agentIntrospect = introspect.Interface{
	Name: "org.bluez.Agent1",
	Methods: []introspect.Method{
		{Name: "Release"},
		{Name: "RequestPinCode", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "pincode", Type: "s", Direction: "out"},
		}},
		{Name: "DisplayPinCode", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "pincode", Type: "s", Direction: "in"},
		}},
		{Name: "RequestPasskey", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "passkey", Type: "u", Direction: "out"},
		}},
		{Name: "DisplayPasskey", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "passkey", Type: "u", Direction: "in"},
			{Name: "entered", Type: "q", Direction: "in"},
		}},
		{Name: "RequestConfirmation", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "passkey", Type: "u", Direction: "in"},
		}},
		{Name: "RequestAuthorization", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
		}},
		{Name: "AuthorizeService", Args: []introspect.Arg{
			{Name: "device", Type: "o", Direction: "in"},
			{Name: "uuid", Type: "s", Direction: "in"},
		}},
		{Name: "Cancel"},
	},
}

// introspectable describes an object with the given interfaces plus the standard ones.
func introspectable(ifaces ...introspect.Interface) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: append([]introspect.Interface{introspect.IntrospectData, prop.IntrospectData}, ifaces...),
	}
	return introspect.NewIntrospectable(node)
}
