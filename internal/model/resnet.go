package model

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/nn"
)

// basicBlock is the two-conv residual unit of ResNet-18/34.
type basicBlock struct {
	conv1 *nn.Conv2d
	bn1   *nn.BatchNorm2d
	conv2 *nn.Conv2d
	bn2   *nn.BatchNorm2d

	// set when the block changes stride or width
	downConv *nn.Conv2d
	downBN   *nn.BatchNorm2d
}

func newBasicBlock(in, out, stride int) *basicBlock {
	b := &basicBlock{
		conv1: nn.NewConv2d(in, out, 3, stride, 1, false),
		bn1:   nn.NewBatchNorm2d(out),
		conv2: nn.NewConv2d(out, out, 3, 1, 1, false),
		bn2:   nn.NewBatchNorm2d(out),
	}
	if stride != 1 || in != out {
		b.downConv = nn.NewConv2d(in, out, 1, stride, 0, false)
		b.downBN = nn.NewBatchNorm2d(out)
	}
	return b
}

func (b *basicBlock) parts() []part {
	parts := []part{
		{"conv1.", b.conv1},
		{"bn1.", b.bn1},
		{"conv2.", b.conv2},
		{"bn2.", b.bn2},
	}
	if b.downConv != nil {
		parts = append(parts, part{"downsample.0.", b.downConv}, part{"downsample.1.", b.downBN})
	}
	return parts
}

func (b *basicBlock) forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := b.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = b.bn1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = nn.ReLU(out); err != nil {
		return nil, err
	}
	if out, err = b.conv2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.bn2.Forward(out); err != nil {
		return nil, err
	}

	identity := x
	if b.downConv != nil {
		if identity, err = b.downConv.Forward(x); err != nil {
			return nil, err
		}
		if identity, err = b.downBN.Forward(identity); err != nil {
			return nil, err
		}
	}
	if out, err = out.Add(identity, tensor.UseUnsafe()); err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}
	return nn.ReLU(out)
}
