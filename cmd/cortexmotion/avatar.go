package main

import (
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

type avatar struct {
	Skeleton *skeleton.Skeleton
	Channels []string
	Table    avatar3d.ChannelTable
}

// loadAvatar reads the skeleton and expression channels of a model file.
func loadAvatar(path string) (*avatar, error) {
	if path == "" {
		return nil, fmt.Errorf("no avatar path configured")
	}
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open avatar: %w", err)
	}
	skel, err := skeleton.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("avatar skeleton: %w", err)
	}
	names, err := avatar3d.ChannelNames(doc)
	if err != nil {
		return nil, fmt.Errorf("avatar expressions: %w", err)
	}
	return &avatar{
		Skeleton: skel,
		Channels: names,
		Table:    avatar3d.TableFor(names),
	}, nil
}
