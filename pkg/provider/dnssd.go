package provider

// DNSSD is the host's DNS-SD (mDNS) advertiser. The core publishes
// under the "_privet._tcp" service type with the TXT records spec.md
// §6 documents (txtvers, ty, services, id, mmid, flags, gcd_id, note).
type DNSSD interface {
	PublishService(serviceType string, port int, txtRecords []string) error
	StopPublishing(serviceType string)
	ID() string
}
