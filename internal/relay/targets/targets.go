package targets

import (
	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/httpclient"
	"github.com/tphakala/wildwatch-go/internal/relay"
)

// New builds the sink selected by settings.Sink. The HTTP client is shared
// with the connectivity probe and only used by HTTP based sinks.
func New(settings *conf.RelaySettings, client *httpclient.Client) (relay.Sink, error) {
	switch settings.Sink {
	case conf.SinkLocal:
		return NewLocalSink(settings.Local.Path, settings.Container)

	case conf.SinkGitHub:
		gh := settings.GitHub
		return NewGitHubSink(&GitHubConfig{
			APIURL:         gh.APIURL,
			Owner:          gh.Owner,
			Repository:     settings.Container,
			Branch:         gh.Branch,
			Private:        gh.Private,
			Token:          gh.Token,
			CommitterName:  gh.CommitterName,
			CommitterEmail: gh.CommitterEmail,
			Timeout:        gh.Timeout,
		}, client)

	case conf.SinkS3:
		s3 := settings.S3
		return NewS3Sink(&S3Config{
			Endpoint:        s3.Endpoint,
			Region:          s3.Region,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UseSSL:          s3.UseSSL,
			Bucket:          settings.Container,
		})

	case conf.SinkSFTP:
		sf := settings.SFTP
		return NewSFTPSink(&SFTPConfig{
			Host:           sf.Host,
			Port:           sf.Port,
			Username:       sf.Username,
			Password:       sf.Password,
			KeyFile:        sf.KeyFile,
			KnownHostsFile: sf.KnownHostsFile,
			BasePath:       sf.BasePath,
			Container:      settings.Container,
			Timeout:        sf.Timeout,
		})

	case conf.SinkFTP:
		f := settings.FTP
		return NewFTPSink(&FTPConfig{
			Host:      f.Host,
			Port:      f.Port,
			Username:  f.Username,
			Password:  f.Password,
			BasePath:  f.BasePath,
			Container: settings.Container,
			Timeout:   f.Timeout,
		})

	case conf.SinkMQTT:
		m := settings.MQTT
		if m.QoS < 0 || m.QoS > 2 {
			return nil, errors.Newf("invalid mqtt qos %d", m.QoS).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Build()
		}
		return NewMQTTSink(&MQTTConfig{
			Broker:    m.Broker,
			ClientID:  m.ClientID,
			Username:  m.Username,
			Password:  m.Password,
			QoS:       byte(m.QoS),
			Container: settings.Container,
			Timeout:   m.Timeout,
		})
	}

	return nil, errors.Newf("unknown relay sink %q", settings.Sink).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Build()
}
