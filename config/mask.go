package config

// maskedValue replaces secrets in printed configuration
const maskedValue = "********"

// Masked returns a copy of cfg with every password and token replaced, safe for display.
func (c *Config) Masked() *Config {
	masked := *c

	masked.Redis.Servers = append([]RedisServer(nil), c.Redis.Servers...)
	for i := range masked.Redis.Servers {
		masked.Redis.Servers[i].Password = mask(masked.Redis.Servers[i].Password)
	}

	masked.Database.Servers = append([]DatabaseServer(nil), c.Database.Servers...)
	for i := range masked.Database.Servers {
		masked.Database.Servers[i].Password = mask(masked.Database.Servers[i].Password)
	}

	masked.Secrets.Vault.Token = mask(masked.Secrets.Vault.Token)
	masked.Secrets.AWS.AccessKey = mask(masked.Secrets.AWS.AccessKey)
	masked.Secrets.AWS.SecretKey = mask(masked.Secrets.AWS.SecretKey)

	return &masked
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}
