package urls

// WebThingAPI describes the links dialect: description layout, REST
// resources and the WebSocket message types.
const WebThingAPI = "https://webthings.io/api/"

// WoTThingDescription is the W3C Thing Description recommendation the
// forms dialect follows.
const WoTThingDescription = "https://www.w3.org/TR/wot-thing-description/"

// WebThingDiscovery describes the _webthing._tcp mDNS advertisement.
const WebThingDiscovery = "https://webthings.io/api/#web-thing-discovery"

// ForFlavor returns the reference document for a dialect name.
func ForFlavor(flavor string) string {
	if flavor == "WoT" {
		return WoTThingDescription
	}
	return WebThingAPI
}
